package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

const (
	// TaskLedgerVerify compares stored period balances with a replay of the ledger.
	TaskLedgerVerify = "gl:ledger.verify"
)

// ErrDriftDetected reports stored balances that differ from the ledger replay.
var ErrDriftDetected = errors.New("ledger verify: balance drift detected")

// LedgerVerifyPayload scopes a verification run. A zero CompanyID covers every company.
type LedgerVerifyPayload struct {
	CompanyID int64 `json:"company_id"`
	Rebuild   bool  `json:"rebuild"`
}

// SnapshotStore reads and writes persisted balance rows.
type SnapshotStore interface {
	ListBalances(ctx context.Context, companyID int64) ([]balances.Balance, error)
	SaveBalances(ctx context.Context, rows []balances.Balance) error
}

// CompanyLister enumerates companies holding balances.
type CompanyLister interface {
	ListCompanies(ctx context.Context) ([]int64, error)
}

// VerifyReport summarises one company's verification.
type VerifyReport struct {
	CompanyID int64
	Rows      int
	Drift     []balances.Drift
	Rebuilt   bool
}

// LedgerVerifyJob replays the ledger and compares it with the stored snapshot.
type LedgerVerifyJob struct {
	Ledger    balances.LedgerSource
	Snapshots SnapshotStore
	Companies CompanyLister
	Calendar  shared.FiscalCalendar
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLedgerVerifyJob constructs the verification handler.
func NewLedgerVerifyJob(ledger balances.LedgerSource, snapshots SnapshotStore, companies CompanyLister, cal shared.FiscalCalendar, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerVerifyJob {
	return &LedgerVerifyJob{
		Ledger:    ledger,
		Snapshots: snapshots,
		Companies: companies,
		Calendar:  cal,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewLedgerVerifyTask creates the task for one company, or all of them when companyID is zero.
func NewLedgerVerifyTask(companyID int64, rebuild bool) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerVerifyPayload{CompanyID: companyID, Rebuild: rebuild})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerify, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// Handle executes the verification task.
func (j *LedgerVerifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil || j.Snapshots == nil {
		return errors.New("ledger verify: dependencies not configured")
	}
	var payload LedgerVerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLedgerVerify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	companies, err := j.resolveCompanies(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve companies", slog.Int64("company_id", payload.CompanyID), slog.Any("error", err))
		return resultErr
	}

	drifting := 0
	for _, companyID := range companies {
		report, err := j.Run(ctx, companyID, payload.Rebuild)
		if err != nil {
			resultErr = err
			j.log().Error("verify company", slog.Int64("company_id", companyID), slog.Any("error", err))
			return resultErr
		}
		if len(report.Drift) > 0 && !report.Rebuilt {
			drifting++
		}
	}
	if drifting > 0 {
		resultErr = fmt.Errorf("%w: %d companies: %w", ErrDriftDetected, drifting, asynq.SkipRetry)
	}
	return resultErr
}

// Run verifies one company and, when rebuild is set, overwrites drifting rows with the replay.
func (j *LedgerVerifyJob) Run(ctx context.Context, companyID int64, rebuild bool) (VerifyReport, error) {
	report := VerifyReport{CompanyID: companyID}
	deltas, err := j.Ledger.Deltas(ctx, companyID)
	if err != nil {
		return report, fmt.Errorf("ledger verify: load deltas: %w", err)
	}
	stored, err := j.Snapshots.ListBalances(ctx, companyID)
	if err != nil {
		return report, fmt.Errorf("ledger verify: load snapshot: %w", err)
	}
	replayed := balances.NewAggregator(balances.WithCalendar(j.Calendar), balances.WithClock(j.now)).Replay(deltas)
	report.Rows = len(replayed)
	report.Drift = balances.Compare(stored, replayed)
	j.metrics().AddDrift(companyID, len(report.Drift))
	for _, d := range report.Drift {
		attrs := []any{
			slog.Int64("company_id", companyID),
			slog.String("series", d.Key.SeriesKey.String()),
			slog.String("period", d.Key.Period.String()),
			slog.Bool("missing", d.Missing),
		}
		if !d.Missing {
			attrs = append(attrs,
				slog.String("stored_ending", d.Maintained.Ending.String()),
				slog.String("replayed_ending", d.Replayed.Ending.String()))
		}
		j.log().Warn("balance drift", attrs...)
	}
	if len(report.Drift) == 0 || !rebuild {
		return report, nil
	}

	closed := make(map[balances.Key]*time.Time, len(stored))
	for _, row := range stored {
		if row.Closed {
			closed[row.Key()] = row.ClosedAt
		}
	}
	for i := range replayed {
		if at, ok := closed[replayed[i].Key()]; ok {
			replayed[i].Closed = true
			replayed[i].ClosedAt = at
		}
	}
	for _, d := range report.Drift {
		if d.Missing && d.Replayed.CompanyID == 0 {
			j.log().Warn("stored balance has no ledger activity", slog.Int64("company_id", companyID),
				slog.String("series", d.Key.SeriesKey.String()), slog.String("period", d.Key.Period.String()))
		}
	}
	if err := j.Snapshots.SaveBalances(ctx, replayed); err != nil {
		return report, fmt.Errorf("ledger verify: save replay: %w", err)
	}
	report.Rebuilt = true
	j.log().Info("rebuilt balance snapshot", slog.Int64("company_id", companyID), slog.Int("rows", len(replayed)))
	return report, nil
}

func (j *LedgerVerifyJob) resolveCompanies(ctx context.Context, companyID int64) ([]int64, error) {
	if companyID > 0 {
		return []int64{companyID}, nil
	}
	if companyID < 0 {
		return nil, fmt.Errorf("company id must be positive")
	}
	if j.Companies == nil {
		return nil, errors.New("ledger verify: company lister not configured")
	}
	return j.Companies.ListCompanies(ctx)
}

func (j *LedgerVerifyJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerVerifyJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerVerify))
	}
	return slog.Default().With(slog.String("job", TaskLedgerVerify))
}

func (j *LedgerVerifyJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerVerifyJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
