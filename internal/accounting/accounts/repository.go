package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists chart nodes.
type Repository interface {
	ListByCompany(ctx context.Context, companyID int64) ([]Account, error)
	Upsert(ctx context.Context, a Account) error
	Delete(ctx context.Context, companyID, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx backed chart repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListByCompany(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, company_id, code, name, type, normal_balance, statement_class, parent_id, is_active, created_by, created_at, edited_by, edited_at
FROM chart_of_accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.Normal, &a.Statement, &a.ParentID, &a.IsActive, &a.CreatedBy, &a.CreatedAt, &a.UpdatedBy, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) Upsert(ctx context.Context, a Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO chart_of_accounts (id, company_id, code, name, type, normal_balance, statement_class, level, parent_id, has_children, is_active, created_by, created_at, edited_by, edited_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (company_id, id) DO UPDATE SET code=EXCLUDED.code, name=EXCLUDED.name, level=EXCLUDED.level, parent_id=EXCLUDED.parent_id,
has_children=EXCLUDED.has_children, is_active=EXCLUDED.is_active, edited_by=EXCLUDED.edited_by, edited_at=EXCLUDED.edited_at`,
		a.ID, a.CompanyID, a.Code, a.Name, a.Type, a.Normal, a.Statement, a.Level, a.ParentID, a.HasChildren, a.IsActive, a.CreatedBy, a.CreatedAt, a.UpdatedBy, a.UpdatedAt)
	return err
}

func (r *repository) Delete(ctx context.Context, companyID, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM chart_of_accounts WHERE company_id=$1 AND id=$2`, companyID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
