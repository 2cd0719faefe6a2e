package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the hex blake2b-256 digest of a canonical payload.
func Fingerprint(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// DBTX is satisfied by both a pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys with their content fingerprint.
type IdempotencyStore struct{}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Claim is a previously stored key.
type Claim struct {
	Key         string
	Module      string
	Fingerprint string
	Reference   string
	CreatedAt   time.Time
}

// Lookup returns the stored claim for key.
func (s *IdempotencyStore) Lookup(ctx context.Context, db DBTX, key string) (Claim, bool, error) {
	var c Claim
	err := db.QueryRow(ctx, `SELECT key, module, fingerprint, reference, created_at FROM idempotency_keys WHERE key=$1`, key).
		Scan(&c.Key, &c.Module, &c.Fingerprint, &c.Reference, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, err
	}
	return c, true, nil
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, db DBTX, c Claim) error {
	if c.Key == "" {
		return errors.New("idempotency key required")
	}
	if c.Module == "" {
		return errors.New("idempotency module required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, reference, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.Key, c.Module, c.Fingerprint, c.Reference, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}
