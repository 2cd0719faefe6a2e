package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func seedChart(t *testing.T) *Chart {
	t.Helper()
	c := NewChart(1)
	for _, in := range []NewAccountInput{
		{Code: "1000", Name: "Assets", Type: AccountTypeAsset},
		{Code: "1100", Name: "Current Assets", Type: AccountTypeAsset, ParentCode: "1000"},
		{Code: "1110", Name: "Cash", Type: AccountTypeAsset, ParentCode: "1100"},
		{Code: "2000", Name: "Liabilities", Type: AccountTypeLiability},
		{Code: "2100", Name: "Accounts Payable", Type: AccountTypeLiability, ParentCode: "2000"},
	} {
		_, err := c.Add(in, 1, nil)
		require.NoError(t, err)
	}
	return c
}

func TestChartAddDerivesShape(t *testing.T) {
	c := seedChart(t)

	cash, err := c.Resolve("1110")
	require.NoError(t, err)
	assert.Equal(t, 3, cash.Level)
	assert.Equal(t, shared.NormalDebit, cash.Normal)
	assert.Equal(t, StatementBalanceSheet, cash.Statement)
	assert.True(t, IsPostable(cash))

	parent, err := c.Resolve("1100")
	require.NoError(t, err)
	assert.True(t, parent.HasChildren)
	assert.False(t, IsPostable(parent))
	require.NotNil(t, cash.ParentID)
	assert.Equal(t, parent.ID, *cash.ParentID)

	ap, err := c.Resolve("2100")
	require.NoError(t, err)
	assert.Equal(t, shared.NormalCredit, ap.Normal)
}

func TestChartAddRejects(t *testing.T) {
	c := seedChart(t)

	_, err := c.Add(NewAccountInput{Code: "1110", Name: "Dup", Type: AccountTypeAsset}, 1, nil)
	assert.ErrorIs(t, err, ErrDuplicateCode)
	_, err = c.Add(NewAccountInput{Code: "11A0", Name: "Bad", Type: AccountTypeAsset}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = c.Add(NewAccountInput{Code: "3000", Name: "Bad", Type: "OTHER"}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = c.Add(NewAccountInput{Code: "3100", Name: "Orphan", Type: AccountTypeEquity, ParentCode: "3000"}, 1, nil)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	cash, err := c.Resolve("1110")
	require.NoError(t, err)
	posted := func(id int64) bool { return id == cash.ID }
	_, err = c.Add(NewAccountInput{Code: "1111", Name: "Petty", Type: AccountTypeAsset, ParentCode: "1110"}, 1, posted)
	assert.ErrorIs(t, err, ErrHasHistory)
}

func TestChartMove(t *testing.T) {
	c := seedChart(t)

	_, err := c.Move("1000", "1110", 2, nil)
	assert.ErrorIs(t, err, ErrCycle)

	moved, err := c.Move("1110", "1000", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Level)
	assert.Equal(t, int64(2), moved.UpdatedBy)

	current, err := c.Resolve("1100")
	require.NoError(t, err)
	assert.False(t, current.HasChildren, "the old parent becomes a leaf")

	path, err := c.Ancestors("1110")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "1000", path[0].Code)

	root, err := c.Move("1110", "", 2, nil)
	require.NoError(t, err)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, 1, root.Level)
}

func TestChartDeactivateAndRemove(t *testing.T) {
	c := seedChart(t)

	acct, err := c.SetActive("2100", false, 3)
	require.NoError(t, err)
	assert.False(t, IsPostable(acct))

	assert.ErrorIs(t, c.Remove("2000", nil), ErrHasChildren)
	posted := func(id int64) bool { return id == acct.ID }
	assert.ErrorIs(t, c.Remove("2100", posted), ErrHasHistory)

	require.NoError(t, c.Remove("2100", nil))
	_, err = c.Resolve("2100")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	liab, err := c.Resolve("2000")
	require.NoError(t, err)
	assert.False(t, liab.HasChildren)

	children, err := c.Children("1000")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "1100", children[0].Code)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(9, "1000")
	assert.ErrorIs(t, err, ErrChartNotLoaded)

	r.Put(seedChart(t))
	acct, err := r.Resolve(1, "1110")
	require.NoError(t, err)
	byID, err := r.ResolveID(1, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.Code, byID.Code)
	assert.Equal(t, []int64{1}, r.Companies())
}
