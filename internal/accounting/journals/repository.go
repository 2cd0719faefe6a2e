package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Repository persists journal entry groups. Lines are append-only.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGroup(ctx context.Context, id uuid.UUID) (Group, error)
	FindByKey(ctx context.Context, key string) (Group, bool, error)
	ListEntries(ctx context.Context, companyID int64) ([]Entry, error)
	ListGroups(ctx context.Context, companyID int64, period shared.FiscalPeriod) ([]Group, error)
	AccountsWithPostings(ctx context.Context, companyID int64) (map[int64]struct{}, error)
}

// TxRepository exposes the writes of one posting transaction.
type TxRepository interface {
	PeriodClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error)
	InsertGroup(ctx context.Context, g Group) error
	GetGroupForUpdate(ctx context.Context, id uuid.UUID) (Group, error)
	MarkVoided(ctx context.Context, id, reversalID uuid.UUID, actorID int64, at time.Time) error
}

// PgRepository is the pgx backed ledger repository.
type PgRepository struct {
	pool        *pgxpool.Pool
	idempotency *appshared.IdempotencyStore
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, idempotency: appshared.NewIdempotencyStore()}
}

type pgTx struct {
	tx          pgx.Tx
	idempotency *appshared.IdempotencyStore
}

// WithTx executes fn within a repeatable-read transaction. Any error rolls back every line.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("journals repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, idempotency: r.idempotency})
	})
}

const groupColumns = `id, company_id, module, document_id, document_version, reference, idempotency_key, fingerprint, posting_date,
fiscal_year, fiscal_period, memo, is_adjusting, status, reverses_group_id, reversed_by_group_id, posted_by, posted_at, voided_by, voided_at`

const entryColumns = `id, group_id, line_no, company_id, module, account_id, account_code, normal_balance, sub_account_type, sub_account_id,
sub_account_name, debit, credit, posting_date, fiscal_year, fiscal_period, is_adjusting, memo, created_at`

// PeriodClosed re-checks the posted period row under a share lock so a concurrent close waits for this commit.
func (t *pgTx) PeriodClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error) {
	var closed bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posted_periods
WHERE company_id=$1 AND module=$2 AND is_posted AND (fiscal_year, fiscal_month) >= ($3, $4) FOR SHARE)`,
		companyID, module, period.Year, period.Period).Scan(&closed)
	return closed, err
}

func (t *pgTx) InsertGroup(ctx context.Context, g Group) error {
	err := t.idempotency.CheckAndInsert(ctx, t.tx, appshared.Claim{
		Key:         g.IdempotencyKey,
		Module:      string(g.Module),
		Fingerprint: g.Fingerprint,
		Reference:   g.ID.String(),
		CreatedAt:   g.PostedAt,
	})
	if errors.Is(err, appshared.ErrIdempotencyConflict) {
		return ErrDuplicateKey
	}
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO journal_groups (`+groupColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		g.ID, g.CompanyID, g.Module, g.DocumentID, g.DocumentVersion, g.Reference, g.IdempotencyKey, g.Fingerprint, g.PostingDate,
		g.Period.Year, g.Period.Period, g.Memo, g.IsAdjusting, g.Status, g.ReversesGroupID, g.ReversedByID, g.PostedBy, g.PostedAt, g.VoidedBy, g.VoidedAt)
	if err != nil {
		return fmt.Errorf("journals: insert group: %w", err)
	}
	batch := &pgx.Batch{}
	for _, e := range g.Entries {
		var subType *string
		var subID *int64
		if !e.Sub.IsZero() {
			kind, id := string(e.Sub.Kind), e.Sub.ID
			subType, subID = &kind, &id
		}
		batch.Queue(`INSERT INTO general_ledger_books (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			e.ID, e.GroupID, e.LineNo, e.CompanyID, e.Module, e.AccountID, e.AccountCode, e.Normal, subType, subID,
			e.SubName, e.Debit, e.Credit, e.PostingDate, e.Period.Year, e.Period.Period, e.Adjusting, e.Memo, e.CreatedAt)
	}
	results := t.tx.SendBatch(ctx, batch)
	for i := range g.Entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("journals: insert line %d: %w", i, err)
		}
	}
	return results.Close()
}

func (t *pgTx) GetGroupForUpdate(ctx context.Context, id uuid.UUID) (Group, error) {
	g, err := scanGroup(t.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM journal_groups WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Group{}, err
	}
	g.Entries, err = queryEntries(ctx, t.tx, `SELECT `+entryColumns+` FROM general_ledger_books WHERE group_id=$1 ORDER BY line_no`, id)
	return g, err
}

func (t *pgTx) MarkVoided(ctx context.Context, id, reversalID uuid.UUID, actorID int64, at time.Time) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE journal_groups SET status=$2, reversed_by_group_id=$3, voided_by=$4, voided_at=$5 WHERE id=$1 AND status=$6`,
		id, StatusVoided, reversalID, actorID, at, StatusPosted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: group %s is not posted", ErrInvalidTransition, id)
	}
	return nil
}

// GetGroup loads a group with its lines.
func (r *PgRepository) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM journal_groups WHERE id=$1`, id))
	if err != nil {
		return Group{}, err
	}
	g.Entries, err = queryEntries(ctx, r.pool, `SELECT `+entryColumns+` FROM general_ledger_books WHERE group_id=$1 ORDER BY line_no`, id)
	return g, err
}

// FindByKey returns the group claimed by an idempotency key.
func (r *PgRepository) FindByKey(ctx context.Context, key string) (Group, bool, error) {
	claim, ok, err := r.idempotency.Lookup(ctx, r.pool, key)
	if err != nil || !ok {
		return Group{}, false, err
	}
	id, err := uuid.Parse(claim.Reference)
	if err != nil {
		return Group{}, false, fmt.Errorf("journals: claim %s references %q: %w", key, claim.Reference, err)
	}
	g, err := r.GetGroup(ctx, id)
	if err != nil {
		return Group{}, false, err
	}
	return g, true, nil
}

// ListEntries returns every line of the company in posting order.
func (r *PgRepository) ListEntries(ctx context.Context, companyID int64) ([]Entry, error) {
	return queryEntries(ctx, r.pool, `SELECT `+entryColumns+` FROM general_ledger_books WHERE company_id=$1 ORDER BY created_at, group_id, line_no`, companyID)
}

// ListGroups returns the groups of a company posted into period.
func (r *PgRepository) ListGroups(ctx context.Context, companyID int64, period shared.FiscalPeriod) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+groupColumns+` FROM journal_groups WHERE company_id=$1 AND fiscal_year=$2 AND fiscal_period=$3 ORDER BY posted_at`,
		companyID, period.Year, period.Period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AccountsWithPostings lists accounts referenced by at least one ledger line.
func (r *PgRepository) AccountsWithPostings(ctx context.Context, companyID int64) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT account_id FROM general_ledger_books WHERE company_id=$1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.CompanyID, &g.Module, &g.DocumentID, &g.DocumentVersion, &g.Reference, &g.IdempotencyKey, &g.Fingerprint, &g.PostingDate,
		&g.Period.Year, &g.Period.Period, &g.Memo, &g.IsAdjusting, &g.Status, &g.ReversesGroupID, &g.ReversedByID, &g.PostedBy, &g.PostedAt, &g.VoidedBy, &g.VoidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEntries(ctx context.Context, q querier, sql string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var subType *string
		var subID *int64
		if err := rows.Scan(&e.ID, &e.GroupID, &e.LineNo, &e.CompanyID, &e.Module, &e.AccountID, &e.AccountCode, &e.Normal, &subType, &subID,
			&e.SubName, &e.Debit, &e.Credit, &e.PostingDate, &e.Period.Year, &e.Period.Period, &e.Adjusting, &e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}
		if subType != nil && subID != nil {
			e.Sub = shared.SubAccountKey{Kind: shared.SubAccountKind(*subType), ID: *subID}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
