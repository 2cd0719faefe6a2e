package recordlocks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// DocumentRef identifies a sales or purchase document whose costing can be frozen.
type DocumentRef struct {
	CompanyID  int64         `json:"company_id"`
	Module     shared.Module `json:"module"`
	DocumentID string        `json:"document_id"`
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%d/%s/%s", r.CompanyID, r.Module, r.DocumentID)
}

func (r DocumentRef) validate() error {
	switch {
	case r.CompanyID <= 0:
		return fmt.Errorf("%w: company is required", ErrInvalidReference)
	case r.Module != shared.ModuleSales && r.Module != shared.ModulePurchase:
		return fmt.Errorf("%w: module %q does not lock records", ErrInvalidReference, r.Module)
	case strings.TrimSpace(r.DocumentID) == "":
		return fmt.Errorf("%w: document id is required", ErrInvalidReference)
	}
	return nil
}

// Snapshot is a frozen quantity and price of a document as of a date.
type Snapshot struct {
	Document DocumentRef     `json:"document"`
	AsOf     time.Time       `json:"as_of"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	LockedBy int64           `json:"locked_by"`
	LockedAt time.Time       `json:"locked_at"`
}

// Amount returns quantity times price at ledger scale.
func (s Snapshot) Amount() decimal.Decimal {
	return s.Quantity.Mul(s.Price).Round(shared.Scale)
}

func (s Snapshot) sameFigures(o Snapshot) bool {
	return s.Quantity.Equal(o.Quantity) && s.Price.Equal(o.Price)
}

// LockInput asks to freeze a document's costing.
type LockInput struct {
	Document DocumentRef
	AsOf     time.Time
	Quantity decimal.Decimal
	Price    decimal.Decimal
	ActorID  int64
}

var (
	// ErrSnapshotNotFound indicates no snapshot exists for the document and date.
	ErrSnapshotNotFound = errors.New("recordlocks: snapshot not found")
	// ErrSnapshotConflict indicates the document is already locked at that date with other figures.
	ErrSnapshotConflict = errors.New("recordlocks: snapshot already locked with different figures")
	// ErrInvalidReference indicates a document reference outside the lockable modules.
	ErrInvalidReference = errors.New("recordlocks: invalid document reference")
	// ErrInvalidFigures indicates a negative or over-precise quantity or price.
	ErrInvalidFigures = errors.New("recordlocks: invalid quantity or price")
)
