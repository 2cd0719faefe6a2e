package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Ledger is the administrative surface of the posting engine.
type Ledger interface {
	ClosePeriod(ctx context.Context, req periods.CloseRequest) (periods.PostedPeriod, error)
	ReopenPeriod(ctx context.Context, req periods.ReopenRequest) (periods.PostedPeriod, error)
	QueryLockStatus(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (periods.LockStatus, error)
	TrialBalance(ctx context.Context, companyID int64, period shared.FiscalPeriod) (reports.TrialBalance, error)
	Verify(ctx context.Context, companyID int64) ([]balances.Drift, error)
	Rebuild(ctx context.Context, companyID int64) error
}

// LedgerCLI runs period administration against a Ledger.
type LedgerCLI struct {
	ledger Ledger
	Stdout io.Writer
	Stderr io.Writer
	Lang   language.Tag
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(ledger Ledger) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: ledger is required")
	}
	return &LedgerCLI{ledger: ledger, Stdout: os.Stdout, Stderr: os.Stderr, Lang: language.English}, nil
}

// PeriodOptions selects a module period.
type PeriodOptions struct {
	CompanyID  int64
	Module     string
	Period     string
	ActorID    int64
	Reason     string
	JSONOutput bool
}

func (o PeriodOptions) parse() (shared.Module, shared.FiscalPeriod, error) {
	if o.CompanyID <= 0 {
		return "", shared.FiscalPeriod{}, errors.New("--company is required and must be positive")
	}
	module, err := shared.ParseModule(o.Module)
	if err != nil {
		return "", shared.FiscalPeriod{}, err
	}
	period, err := shared.ParseFiscalPeriod(o.Period)
	if err != nil {
		return "", shared.FiscalPeriod{}, err
	}
	return module, period, nil
}

// Close closes a module period and prints the posted period record.
func (c *LedgerCLI) Close(ctx context.Context, opts PeriodOptions) error {
	module, period, err := opts.parse()
	if err != nil {
		return err
	}
	rec, err := c.ledger.ClosePeriod(ctx, periods.CloseRequest{CompanyID: opts.CompanyID, Module: module, Period: period, ActorID: opts.ActorID})
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		return c.writeJSON(rec)
	}
	_, err = fmt.Fprintf(c.Stdout, "closed %s %s for company %d\n", module, period, opts.CompanyID)
	return err
}

// Reopen reopens the latest closed module period.
func (c *LedgerCLI) Reopen(ctx context.Context, opts PeriodOptions) error {
	module, period, err := opts.parse()
	if err != nil {
		return err
	}
	if opts.Reason == "" {
		return errors.New("--reason is required")
	}
	rec, err := c.ledger.ReopenPeriod(ctx, periods.ReopenRequest{CompanyID: opts.CompanyID, Module: module, Period: period, ActorID: opts.ActorID, Reason: opts.Reason})
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		return c.writeJSON(rec)
	}
	_, err = fmt.Fprintf(c.Stdout, "reopened %s %s for company %d\n", module, period, opts.CompanyID)
	return err
}

// Status prints the lock status of a module period.
func (c *LedgerCLI) Status(ctx context.Context, opts PeriodOptions) error {
	module, period, err := opts.parse()
	if err != nil {
		return err
	}
	st, err := c.ledger.QueryLockStatus(ctx, opts.CompanyID, module, period)
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		return c.writeJSON(st)
	}
	state := "open"
	switch {
	case st.Closing:
		state = "closing"
	case st.Closed:
		state = "closed"
	}
	watermark := "-"
	if st.Watermark != nil {
		watermark = st.Watermark.String()
	}
	_, err = fmt.Fprintf(c.Stdout, "%s %s: %s (fully closed: %t, latest closed: %s)\n", module, period, state, st.FullyClosed, watermark)
	return err
}

// TrialBalanceOptions selects a company period.
type TrialBalanceOptions struct {
	CompanyID  int64
	Period     string
	JSONOutput bool
}

// TrialBalance prints the trial balance with grouped digits.
func (c *LedgerCLI) TrialBalance(ctx context.Context, opts TrialBalanceOptions) error {
	if opts.CompanyID <= 0 {
		return errors.New("--company is required and must be positive")
	}
	period, err := shared.ParseFiscalPeriod(opts.Period)
	if err != nil {
		return err
	}
	tb, err := c.ledger.TrialBalance(ctx, opts.CompanyID, period)
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		return c.writeJSON(tb)
	}
	p := message.NewPrinter(c.Lang)
	w := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "code\tname\topening\tdebit\tcredit\tclosing\t")
	for _, grp := range tb.Groups {
		for _, acc := range grp.Accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n", acc.Code, acc.Name,
				amount(p, acc.Opening), amount(p, acc.Debit), amount(p, acc.Credit), amount(p, acc.Closing))
		}
	}
	fmt.Fprintf(w, "\ttotal\t\t%s\t%s\t\t\n", amount(p, tb.TotalDebit), amount(p, tb.TotalCredit))
	if err := w.Flush(); err != nil {
		return err
	}
	if !tb.Balanced {
		_, _ = fmt.Fprintln(c.Stderr, "trial balance does not balance")
		return ErrUnbalanced
	}
	return nil
}

// ErrUnbalanced reports a trial balance whose debit and credit totals differ.
var ErrUnbalanced = errors.New("trial balance out of balance")

// ErrDrift reports maintained balances that differ from the ledger replay.
var ErrDrift = errors.New("balance drift detected")

// VerifyOptions scopes a verification.
type VerifyOptions struct {
	CompanyID  int64
	Rebuild    bool
	JSONOutput bool
}

// Verify compares maintained balances with a ledger replay and optionally rebuilds them.
func (c *LedgerCLI) Verify(ctx context.Context, opts VerifyOptions) error {
	if opts.CompanyID <= 0 {
		return errors.New("--company is required and must be positive")
	}
	drift, err := c.ledger.Verify(ctx, opts.CompanyID)
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		if err := c.writeJSON(map[string]any{"company_id": opts.CompanyID, "drift": drift}); err != nil {
			return err
		}
	} else {
		p := message.NewPrinter(c.Lang)
		for _, d := range drift {
			if d.Missing {
				fmt.Fprintf(c.Stdout, "%s %s: missing\n", d.Key.SeriesKey, d.Key.Period)
				continue
			}
			fmt.Fprintf(c.Stdout, "%s %s: maintained %s replayed %s\n", d.Key.SeriesKey, d.Key.Period,
				amount(p, d.Maintained.Ending), amount(p, d.Replayed.Ending))
		}
		fmt.Fprintf(c.Stdout, "%d drifting rows\n", len(drift))
	}
	if len(drift) == 0 {
		return nil
	}
	if !opts.Rebuild {
		return ErrDrift
	}
	if err := c.ledger.Rebuild(ctx, opts.CompanyID); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Stdout, "rebuilt balances for company %d\n", opts.CompanyID)
	return err
}

func (c *LedgerCLI) writeJSON(v any) error {
	enc := json.NewEncoder(c.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func amount(p *message.Printer, d decimal.Decimal) string {
	f, _ := d.Round(shared.Scale).Float64()
	return p.Sprintf("%.4f", f)
}
