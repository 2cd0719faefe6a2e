package balances

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Repository writes balance snapshots into gl_period_balances and gl_sub_account_balances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx snapshot persister.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const upsertPeriodBalance = `INSERT INTO gl_period_balances (company_id, account_id, fiscal_year, fiscal_period, period_start, period_end,
beginning_balance, debit_total, credit_total, ending_balance, adjustment_debit, adjustment_credit, adjusted_ending_balance, is_closed, closed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (company_id, account_id, fiscal_year, fiscal_period) DO UPDATE SET
beginning_balance=EXCLUDED.beginning_balance, debit_total=EXCLUDED.debit_total, credit_total=EXCLUDED.credit_total,
ending_balance=EXCLUDED.ending_balance, adjustment_debit=EXCLUDED.adjustment_debit, adjustment_credit=EXCLUDED.adjustment_credit,
adjusted_ending_balance=EXCLUDED.adjusted_ending_balance, is_closed=EXCLUDED.is_closed, closed_at=EXCLUDED.closed_at, updated_at=EXCLUDED.updated_at`

const upsertSubAccountBalance = `INSERT INTO gl_sub_account_balances (company_id, account_id, sub_account_type, sub_account_id, fiscal_year, fiscal_period, period_start, period_end,
beginning_balance, debit_total, credit_total, ending_balance, adjustment_debit, adjustment_credit, adjusted_ending_balance, is_closed, closed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (company_id, account_id, sub_account_type, sub_account_id, fiscal_year, fiscal_period) DO UPDATE SET
beginning_balance=EXCLUDED.beginning_balance, debit_total=EXCLUDED.debit_total, credit_total=EXCLUDED.credit_total,
ending_balance=EXCLUDED.ending_balance, adjustment_debit=EXCLUDED.adjustment_debit, adjustment_credit=EXCLUDED.adjustment_credit,
adjusted_ending_balance=EXCLUDED.adjusted_ending_balance, is_closed=EXCLUDED.is_closed, closed_at=EXCLUDED.closed_at, updated_at=EXCLUDED.updated_at`

// SaveBalances upserts rows in one batch transaction.
func (r *Repository) SaveBalances(ctx context.Context, rows []Balance) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range rows {
			if b.Sub.IsZero() {
				batch.Queue(upsertPeriodBalance, b.CompanyID, b.AccountID, b.Period.Year, b.Period.Period, b.PeriodStart, b.PeriodEnd,
					b.Beginning, b.DebitTotal, b.CreditTotal, b.Ending, b.AdjustmentDebit, b.AdjustmentCredit, b.AdjustedEnding, b.Closed, b.ClosedAt, b.UpdatedAt)
				continue
			}
			batch.Queue(upsertSubAccountBalance, b.CompanyID, b.AccountID, string(b.Sub.Kind), b.Sub.ID, b.Period.Year, b.Period.Period, b.PeriodStart, b.PeriodEnd,
				b.Beginning, b.DebitTotal, b.CreditTotal, b.Ending, b.AdjustmentDebit, b.AdjustmentCredit, b.AdjustedEnding, b.Closed, b.ClosedAt, b.UpdatedAt)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range rows {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("balances: upsert row %d: %w", i, err)
			}
		}
		return results.Close()
	})
}

const balanceColumns = `account_id, fiscal_year, fiscal_period, period_start, period_end, beginning_balance, debit_total, credit_total,
ending_balance, adjustment_debit, adjustment_credit, adjusted_ending_balance, is_closed, closed_at, updated_at`

// ListBalances loads every stored row of a company, account and sub-account level.
func (r *Repository) ListBalances(ctx context.Context, companyID int64) ([]Balance, error) {
	var out []Balance
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+`, '' AS sub_account_type, 0 AS sub_account_id
FROM gl_period_balances WHERE company_id=$1
UNION ALL
SELECT `+balanceColumns+`, sub_account_type, sub_account_id
FROM gl_sub_account_balances WHERE company_id=$1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		b := Balance{CompanyID: companyID}
		var subType string
		var subID int64
		if err := rows.Scan(&b.AccountID, &b.Period.Year, &b.Period.Period, &b.PeriodStart, &b.PeriodEnd, &b.Beginning, &b.DebitTotal,
			&b.CreditTotal, &b.Ending, &b.AdjustmentDebit, &b.AdjustmentCredit, &b.AdjustedEnding, &b.Closed, &b.ClosedAt, &b.UpdatedAt,
			&subType, &subID); err != nil {
			return nil, err
		}
		if subType != "" {
			b.Sub = shared.SubAccountKey{Kind: shared.SubAccountKind(subType), ID: subID}
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBalances(out)
	return out, nil
}

// ListCompanies returns the companies holding stored balances.
func (r *Repository) ListCompanies(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM gl_period_balances ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
