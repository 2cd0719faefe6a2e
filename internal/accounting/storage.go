package accounting

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recordlocks"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// AuditPort records administrative and ledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Storage bundles the repositories behind the engine. Journals is a factory
// because ledger transactions re-check period status through the lock manager.
type Storage struct {
	Journals    func(locks journals.LockChecker) journals.Repository
	Periods     periods.Repository
	Accounts    accounts.Repository
	RecordLocks recordlocks.Repository
	Balances    balances.Persister
	Audit       AuditPort
}

// MemoryStorage keeps every repository in process. Audit events go to the logger.
func MemoryStorage(logger *slog.Logger) Storage {
	return Storage{
		Journals: func(locks journals.LockChecker) journals.Repository {
			return journals.NewMemoryRepository(locks)
		},
		Periods:     periods.NewMemoryRepository(),
		RecordLocks: recordlocks.NewMemoryRepository(),
		Audit:       shared.NewSlogAuditor(logger),
	}
}

// PostgresStorage persists through pgx.
func PostgresStorage(pool *pgxpool.Pool) Storage {
	return Storage{
		Journals: func(journals.LockChecker) journals.Repository {
			return journals.NewPgRepository(pool)
		},
		Periods:     periods.NewRepository(pool),
		Accounts:    accounts.NewRepository(pool),
		RecordLocks: recordlocks.NewRepository(pool),
		Balances:    balances.NewRepository(pool),
		Audit:       shared.NewAuditLogger(pool),
	}
}
