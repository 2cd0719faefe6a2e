package periods

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Repository persists posted period rows.
type Repository interface {
	ListPosted(ctx context.Context, companyID int64, module shared.Module) ([]PostedPeriod, error)
	Get(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (PostedPeriod, error)
	Save(ctx context.Context, p PostedPeriod) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx backed posted period repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const postedColumns = `company_id, module, fiscal_year, fiscal_month, is_posted, posted_on, posted_by, reopened_on, reopened_by`

// ListPosted returns the closed periods of a module ordered by period.
func (r *repository) ListPosted(ctx context.Context, companyID int64, module shared.Module) ([]PostedPeriod, error) {
	rows, err := r.db.Query(ctx, `SELECT `+postedColumns+` FROM posted_periods
WHERE company_id=$1 AND module=$2 AND is_posted ORDER BY fiscal_year, fiscal_month`, companyID, module)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostedPeriod
	for rows.Next() {
		p, err := scanPosted(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (PostedPeriod, error) {
	p, err := scanPosted(r.db.QueryRow(ctx, `SELECT `+postedColumns+` FROM posted_periods
WHERE company_id=$1 AND module=$2 AND fiscal_year=$3 AND fiscal_month=$4`, companyID, module, period.Year, period.Period))
	if errors.Is(err, pgx.ErrNoRows) {
		return PostedPeriod{}, ErrRecordNotFound
	}
	return p, err
}

func (r *repository) Save(ctx context.Context, p PostedPeriod) error {
	_, err := r.db.Exec(ctx, `INSERT INTO posted_periods (`+postedColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (company_id, module, fiscal_year, fiscal_month) DO UPDATE SET
is_posted=EXCLUDED.is_posted, posted_on=EXCLUDED.posted_on, posted_by=EXCLUDED.posted_by,
reopened_on=EXCLUDED.reopened_on, reopened_by=EXCLUDED.reopened_by`,
		p.CompanyID, p.Module, p.Period.Year, p.Period.Period, p.IsPosted, p.PostedOn, p.PostedBy, p.ReopenedOn, p.ReopenedBy)
	return err
}

func scanPosted(row pgx.Row) (PostedPeriod, error) {
	var p PostedPeriod
	err := row.Scan(&p.CompanyID, &p.Module, &p.Period.Year, &p.Period.Period, &p.IsPosted, &p.PostedOn, &p.PostedBy, &p.ReopenedOn, &p.ReopenedBy)
	return p, err
}
