package recordlocks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores snapshots append-only.
type Repository interface {
	// Insert stores s unless a snapshot for the same document and date exists,
	// in which case the existing one is returned with inserted false.
	Insert(ctx context.Context, s Snapshot) (Snapshot, bool, error)
	Get(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error)
	Latest(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error)
	List(ctx context.Context, ref DocumentRef) ([]Snapshot, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed snapshot store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const snapshotColumns = `company_id, module, document_id, locked_date, quantity, price, locked_by, locked_at`

func (r *repository) Insert(ctx context.Context, s Snapshot) (Snapshot, bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO locked_record_snapshots (`+snapshotColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (company_id, module, document_id, locked_date) DO NOTHING`,
		s.Document.CompanyID, s.Document.Module, s.Document.DocumentID, s.AsOf, s.Quantity, s.Price, s.LockedBy, s.LockedAt)
	if err != nil {
		return Snapshot{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return s, true, nil
	}
	existing, err := r.Get(ctx, s.Document, s.AsOf)
	return existing, false, err
}

func (r *repository) Get(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM locked_record_snapshots
WHERE company_id=$1 AND module=$2 AND document_id=$3 AND locked_date=$4`,
		ref.CompanyID, ref.Module, ref.DocumentID, asOf))
}

func (r *repository) Latest(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM locked_record_snapshots
WHERE company_id=$1 AND module=$2 AND document_id=$3 AND locked_date<=$4
ORDER BY locked_date DESC LIMIT 1`,
		ref.CompanyID, ref.Module, ref.DocumentID, asOf))
}

func (r *repository) List(ctx context.Context, ref DocumentRef) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM locked_record_snapshots
WHERE company_id=$1 AND module=$2 AND document_id=$3 ORDER BY locked_date`,
		ref.CompanyID, ref.Module, ref.DocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.Document.CompanyID, &s.Document.Module, &s.Document.DocumentID, &s.AsOf, &s.Quantity, &s.Price, &s.LockedBy, &s.LockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}
