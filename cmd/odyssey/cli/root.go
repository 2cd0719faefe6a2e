package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Dependencies opens the backends a command needs. Each opener returns a release func.
type Dependencies struct {
	OpenLedger func(ctx context.Context) (Ledger, func(), error)
	OpenJobs   func() (*JobsCLI, error)
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewRootCommand creates the glctl root command with all subcommands registered.
func NewRootCommand(deps Dependencies) *cobra.Command {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	rootCmd := &cobra.Command{
		Use:   "glctl",
		Short: "General ledger period administration",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.SetOut(deps.Stdout)
	rootCmd.SetErr(deps.Stderr)

	rootCmd.AddCommand(
		newPeriodCommand(deps, "close", "Close a module period", func(ctx context.Context, c *LedgerCLI, o PeriodOptions) error { return c.Close(ctx, o) }),
		newPeriodCommand(deps, "reopen", "Reopen the latest closed module period", func(ctx context.Context, c *LedgerCLI, o PeriodOptions) error { return c.Reopen(ctx, o) }),
		newPeriodCommand(deps, "status", "Show the lock status of a module period", func(ctx context.Context, c *LedgerCLI, o PeriodOptions) error { return c.Status(ctx, o) }),
		newTrialBalanceCommand(deps),
		newVerifyCommand(deps),
		newJobsCommand(deps),
	)
	return rootCmd
}

func withLedger(cmd *cobra.Command, deps Dependencies, fn func(*LedgerCLI) error) error {
	if deps.OpenLedger == nil {
		return errors.New("ledger backend not configured")
	}
	ledger, release, err := deps.OpenLedger(cmd.Context())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if release != nil {
		defer release()
	}
	c, err := NewLedgerCLI(ledger)
	if err != nil {
		return err
	}
	c.Stdout, c.Stderr = deps.Stdout, deps.Stderr
	return fn(c)
}

func newPeriodCommand(deps Dependencies, use, short string, run func(context.Context, *LedgerCLI, PeriodOptions) error) *cobra.Command {
	var opts PeriodOptions
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, deps, func(c *LedgerCLI) error {
				return run(cmd.Context(), c, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.CompanyID, "company", 0, "company id (required)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "document module, e.g. SALES (required)")
	cmd.Flags().StringVar(&opts.Period, "period", "", "fiscal period as YYYY-MM (required)")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("period")
	if use != "status" {
		cmd.Flags().Int64Var(&opts.ActorID, "actor", 0, "acting user id (required)")
		_ = cmd.MarkFlagRequired("actor")
	}
	if use == "reopen" {
		cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the audit log (required)")
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}

func newTrialBalanceCommand(deps Dependencies) *cobra.Command {
	var opts TrialBalanceOptions
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance of a company period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, deps, func(c *LedgerCLI) error {
				return c.TrialBalance(cmd.Context(), opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.CompanyID, "company", 0, "company id (required)")
	cmd.Flags().StringVar(&opts.Period, "period", "", "fiscal period as YYYY-MM (required)")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func newVerifyCommand(deps Dependencies) *cobra.Command {
	var opts VerifyOptions
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare maintained balances with a ledger replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, deps, func(c *LedgerCLI) error {
				return c.Verify(cmd.Context(), opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.CompanyID, "company", 0, "company id (required)")
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "rebuild drifting balances from the ledger")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newJobsCommand(deps Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	withJobs := func(fn func(*JobsCLI) error) error {
		if deps.OpenJobs == nil {
			return errors.New("jobs backend not configured")
		}
		j, err := deps.OpenJobs()
		if err != nil {
			return err
		}
		defer j.Close()
		return fn(j)
	}

	var companyID int64
	var rebuild bool
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(j *JobsCLI) error {
				info, err := j.Trigger(cmd.Context(), args[0], companyID, rebuild)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(deps.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				return err
			})
		},
	}
	trigger.Flags().Int64Var(&companyID, "company", 0, "company id, 0 for every company")
	trigger.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild drifting balances")

	var queue string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(j *JobsCLI) error {
				s, err := j.InspectQueue(cmd.Context(), queue)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(deps.Stdout, "%s: pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
				return err
			})
		},
	}
	stats.Flags().StringVar(&queue, "queue", "", "queue name")

	var retryQueue string
	retry := &cobra.Command{
		Use:   "retry",
		Short: "List tasks waiting for retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(j *JobsCLI) error {
				tasks, err := j.ListRetry(cmd.Context(), retryQueue, 20)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(deps.Stdout, "%s %s retried=%d last error: %s\n", t.ID, t.Type, t.Retried, t.LastErr)
				}
				return nil
			})
		},
	}
	retry.Flags().StringVar(&retryQueue, "queue", "", "queue name")

	cmd.AddCommand(trigger, stats, retry)
	return cmd
}
