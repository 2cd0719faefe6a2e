package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Status enumerates the journal entry group lifecycle.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPosted   Status = "POSTED"
	StatusCanceled Status = "CANCELED"
	StatusVoided   Status = "VOIDED"
)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusPosted, StatusCanceled},
	StatusPosted: {StatusVoided},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when allowed, ErrInvalidTransition otherwise.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Group is a posted journal entry group: the lines of one source document version.
type Group struct {
	ID              uuid.UUID           `json:"id"`
	CompanyID       int64               `json:"company_id"`
	Module          shared.Module       `json:"module"`
	DocumentID      string              `json:"document_id"`
	DocumentVersion int                 `json:"document_version"`
	Reference       string              `json:"reference,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key"`
	Fingerprint     string              `json:"fingerprint"`
	PostingDate     time.Time           `json:"posting_date"`
	Period          shared.FiscalPeriod `json:"period"`
	Memo            string              `json:"memo,omitempty"`
	IsAdjusting     bool                `json:"is_adjusting"`
	Status          Status              `json:"status"`
	ReversesGroupID *uuid.UUID          `json:"reverses_group_id,omitempty"`
	ReversedByID    *uuid.UUID          `json:"reversed_by_group_id,omitempty"`
	PostedBy        int64               `json:"posted_by"`
	PostedAt        time.Time           `json:"posted_at"`
	VoidedBy        *int64              `json:"voided_by,omitempty"`
	VoidedAt        *time.Time          `json:"voided_at,omitempty"`
	Entries         []Entry             `json:"entries"`
}

// EntryIDs returns the ids of the group lines in order.
func (g Group) EntryIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.Entries))
	for _, e := range g.Entries {
		out = append(out, e.ID)
	}
	return out
}

// Entry is one immutable ledger line.
type Entry struct {
	ID          uuid.UUID            `json:"id"`
	GroupID     uuid.UUID            `json:"group_id"`
	LineNo      int                  `json:"line_no"`
	CompanyID   int64                `json:"company_id"`
	Module      shared.Module        `json:"module"`
	AccountID   int64                `json:"account_id"`
	AccountCode string               `json:"account_code"`
	Normal      shared.NormalBalance `json:"normal_balance"`
	Sub         shared.SubAccountKey `json:"sub_account,omitempty"`
	SubName     string               `json:"sub_account_name,omitempty"`
	Debit       decimal.Decimal      `json:"debit"`
	Credit      decimal.Decimal      `json:"credit"`
	PostingDate time.Time            `json:"posting_date"`
	Period      shared.FiscalPeriod  `json:"period"`
	Adjusting   bool                 `json:"adjusting"`
	Memo        string               `json:"memo,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

var (
	// ErrGroupNotFound indicates an unknown journal entry group.
	ErrGroupNotFound = errors.New("journals: entry group not found")
	// ErrInvalidTransition indicates the lifecycle forbids the change.
	ErrInvalidTransition = errors.New("journals: invalid status transition")
	// ErrDuplicateKey indicates the idempotency key was claimed concurrently.
	ErrDuplicateKey = errors.New("journals: idempotency key already claimed")
	// ErrNoResolver indicates the module registered no sub-account resolver.
	ErrNoResolver = errors.New("journals: no sub-account resolver for module")
)
