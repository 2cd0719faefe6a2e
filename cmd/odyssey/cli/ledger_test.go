package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func seededEngine(t *testing.T) *accounting.Engine {
	t.Helper()
	ctx := context.Background()
	e, err := accounting.NewEngine(accounting.MemoryStorage(nil), accounting.Config{Modules: []shared.Module{shared.ModuleGeneral}})
	require.NoError(t, err)
	for _, in := range []accounts.NewAccountInput{
		{ID: 2000, Code: "2000", Name: "Accounts Payable", Type: accounts.AccountTypeLiability},
		{ID: 5010, Code: "5010", Name: "Supplies", Type: accounts.AccountTypeExpense},
	} {
		_, err := e.AddAccount(ctx, 1, 1, in)
		require.NoError(t, err)
	}
	_, err = e.SubmitPosting(ctx, journals.PostingRequest{
		CompanyID:   1,
		Module:      shared.ModuleGeneral,
		DocumentID:  "BILL-1",
		PostingDate: time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC),
		ActorID:     1,
		Lines: []journals.LineInput{
			{AccountCode: "5010", Debit: shared.Amount("1234567.5"), Credit: shared.Amount("0")},
			{AccountCode: "2000", Debit: shared.Amount("0"), Credit: shared.Amount("1234567.5")},
		},
	})
	require.NoError(t, err)
	return e
}

func run(t *testing.T, e *accounting.Engine, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(Dependencies{
		OpenLedger: func(ctx context.Context) (Ledger, func(), error) { return e, nil, nil },
		Stdout:     &out,
		Stderr:     &errOut,
	})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrialBalanceCommandGroupsDigits(t *testing.T) {
	e := seededEngine(t)
	out, err := run(t, e, "trial-balance", "--company", "1", "--period", "2025-01")
	require.NoError(t, err)
	assert.Contains(t, out, "1,234,567.5000")
	assert.Contains(t, out, "Supplies")
}

func TestCloseStatusReopenCommands(t *testing.T) {
	e := seededEngine(t)

	out, err := run(t, e, "close", "--company", "1", "--module", "general", "--period", "2025-01", "--actor", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "closed GENERAL 2025-01")

	out, err = run(t, e, "status", "--company", "1", "--module", "GENERAL", "--period", "2025-01", "--json")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["closed"])
	assert.Equal(t, "2025-01", status["latest_closed"])

	_, err = run(t, e, "reopen", "--company", "1", "--module", "GENERAL", "--period", "2025-01", "--actor", "7")
	require.Error(t, err)

	out, err = run(t, e, "reopen", "--company", "1", "--module", "GENERAL", "--period", "2025-01", "--actor", "7", "--reason", "late bill")
	require.NoError(t, err)
	assert.Contains(t, out, "reopened GENERAL 2025-01")
}

func TestVerifyCommandClean(t *testing.T) {
	e := seededEngine(t)
	out, err := run(t, e, "verify", "--company", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "0 drifting rows")
}

func TestPeriodCommandRejectsUnknownModule(t *testing.T) {
	e := seededEngine(t)
	_, err := run(t, e, "status", "--company", "1", "--module", "ledger", "--period", "2025-01")
	assert.ErrorIs(t, err, shared.ErrUnknownModule)
}

func TestJobsCommandNeedsBackend(t *testing.T) {
	_, err := run(t, nil, "jobs", "stats")
	assert.Error(t, err)
}
