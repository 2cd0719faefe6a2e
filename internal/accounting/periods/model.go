package periods

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// PostedPeriod is the lock record of a (company, module, fiscal period).
type PostedPeriod struct {
	CompanyID  int64               `json:"company_id"`
	Module     shared.Module       `json:"module"`
	Period     shared.FiscalPeriod `json:"period"`
	IsPosted   bool                `json:"is_posted"`
	PostedOn   *time.Time          `json:"posted_on,omitempty"`
	PostedBy   *int64              `json:"posted_by,omitempty"`
	ReopenedOn *time.Time          `json:"reopened_on,omitempty"`
	ReopenedBy *int64              `json:"reopened_by,omitempty"`
}

// CloseRequest asks to close a module period.
type CloseRequest struct {
	CompanyID int64
	Module    shared.Module
	Period    shared.FiscalPeriod
	ActorID   int64
}

// ReopenRequest asks to reopen the latest closed module period.
type ReopenRequest struct {
	CompanyID int64
	Module    shared.Module
	Period    shared.FiscalPeriod
	ActorID   int64
	Reason    string
}

// LockStatus answers queryLockStatus.
type LockStatus struct {
	CompanyID   int64                `json:"company_id"`
	Module      shared.Module        `json:"module"`
	Period      shared.FiscalPeriod  `json:"period"`
	Closed      bool                 `json:"closed"`
	Closing     bool                 `json:"closing"`
	FullyClosed bool                 `json:"fully_closed"`
	Watermark   *shared.FiscalPeriod `json:"latest_closed,omitempty"`
	Record      *PostedPeriod        `json:"record,omitempty"`
}

// EventType names a period transition.
type EventType string

const (
	EventPeriodClosed   EventType = "period.closed"
	EventPeriodReopened EventType = "period.reopened"
)

// PeriodEvent notifies document modules of a period transition.
type PeriodEvent struct {
	Type        EventType           `json:"type"`
	CompanyID   int64               `json:"company_id"`
	Module      shared.Module       `json:"module"`
	Period      shared.FiscalPeriod `json:"period"`
	FullyClosed bool                `json:"fully_closed"`
	ActorID     int64               `json:"actor_id"`
	At          time.Time           `json:"at"`
}

var (
	// ErrPeriodNotClosed indicates a reopen of a period that is open.
	ErrPeriodNotClosed = errors.New("periods: period is not closed")
	// ErrRecordNotFound indicates no posted period row exists.
	ErrRecordNotFound = errors.New("periods: posted period not found")
	// ErrMutexHeld indicates another instance is closing the period.
	ErrMutexHeld = errors.New("periods: close mutex held elsewhere")
)
