package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Reason classifies why the engine rejected an operation.
type Reason string

const (
	ReasonAccountNotPostable     Reason = "ACCOUNT_NOT_POSTABLE"
	ReasonMalformedLine          Reason = "MALFORMED_LINE"
	ReasonMalformedEntry         Reason = "MALFORMED_ENTRY"
	ReasonUnbalancedEntry        Reason = "UNBALANCED_ENTRY"
	ReasonPeriodClosed           Reason = "PERIOD_CLOSED"
	ReasonPeriodClosing          Reason = "PERIOD_CLOSING"
	ReasonInvalidSubAccount      Reason = "INVALID_SUB_ACCOUNT"
	ReasonIdempotencyMismatch    Reason = "IDEMPOTENCY_MISMATCH"
	ReasonUnbalancedOpenEntries  Reason = "UNBALANCED_OPEN_ENTRIES"
	ReasonCannotCloseOutOfOrder  Reason = "CANNOT_CLOSE_OUT_OF_ORDER"
	ReasonCannotReopenOutOfOrder Reason = "CANNOT_REOPEN_OUT_OF_ORDER"
	ReasonConsistencyViolation   Reason = "CONSISTENCY_VIOLATION"
)

var (
	// ErrAccountNotPostable indicates an unknown, inactive or rollup account on a line.
	ErrAccountNotPostable = errors.New("accounting: account not postable")
	// ErrMalformedLine indicates a line without exactly one positive side.
	ErrMalformedLine = errors.New("accounting: malformed line")
	// ErrMalformedEntry indicates a structurally incomplete entry group.
	ErrMalformedEntry = errors.New("accounting: malformed entry")
	// ErrUnbalancedEntry indicates debit != credit.
	ErrUnbalancedEntry = errors.New("accounting: journal lines must balance")
	// ErrPeriodClosed indicates the target period is closed for the module.
	ErrPeriodClosed = errors.New("accounting: period closed")
	// ErrPeriodClosing indicates a close is in flight; retry after backoff.
	ErrPeriodClosing = errors.New("accounting: period closing")
	// ErrInvalidSubAccount indicates the owning module could not resolve a sub-account.
	ErrInvalidSubAccount = errors.New("accounting: invalid sub-account")
	// ErrIdempotencyMismatch indicates a reused idempotency key with different content.
	ErrIdempotencyMismatch = errors.New("accounting: idempotency key reused with different content")
	// ErrUnbalancedOpenEntries indicates the period cannot be closed yet.
	ErrUnbalancedOpenEntries = errors.New("accounting: unbalanced or open entries block close")
	// ErrCannotCloseOutOfOrder indicates an earlier period is still open.
	ErrCannotCloseOutOfOrder = errors.New("accounting: earlier period still open")
	// ErrCannotReopenOutOfOrder indicates a later period is still closed.
	ErrCannotReopenOutOfOrder = errors.New("accounting: later period still closed")
	// ErrConsistencyViolation indicates a broken ledger/aggregate invariant.
	ErrConsistencyViolation = errors.New("accounting: consistency violation")
	// ErrLockTimeout indicates a bounded lock acquisition expired; retry after backoff.
	ErrLockTimeout = errors.New("accounting: lock acquisition timed out")
	// ErrNotFound indicates a missing ledger resource.
	ErrNotFound = errors.New("accounting: not found")
)

var reasonSentinels = map[Reason]error{
	ReasonAccountNotPostable:     ErrAccountNotPostable,
	ReasonMalformedLine:          ErrMalformedLine,
	ReasonMalformedEntry:         ErrMalformedEntry,
	ReasonUnbalancedEntry:        ErrUnbalancedEntry,
	ReasonPeriodClosed:           ErrPeriodClosed,
	ReasonPeriodClosing:          ErrPeriodClosing,
	ReasonInvalidSubAccount:      ErrInvalidSubAccount,
	ReasonIdempotencyMismatch:    ErrIdempotencyMismatch,
	ReasonUnbalancedOpenEntries:  ErrUnbalancedOpenEntries,
	ReasonCannotCloseOutOfOrder:  ErrCannotCloseOutOfOrder,
	ReasonCannotReopenOutOfOrder: ErrCannotReopenOutOfOrder,
	ReasonConsistencyViolation:   ErrConsistencyViolation,
}

// LineIssue points at one offending line of a journal entry group.
type LineIssue struct {
	Index       int    `json:"index"`
	AccountCode string `json:"account_code,omitempty"`
	Detail      string `json:"detail"`
}

// PostingError is the actionable rejection returned to submitting modules.
type PostingError struct {
	Reason   Reason      `json:"reason"`
	Message  string      `json:"message"`
	Lines    []LineIssue `json:"lines,omitempty"`
	Accounts []string    `json:"accounts,omitempty"`
}

// Reject builds a PostingError. Account codes are collected from the line issues.
func Reject(reason Reason, message string, lines ...LineIssue) *PostingError {
	e := &PostingError{Reason: reason, Message: message, Lines: lines}
	seen := map[string]struct{}{}
	for _, l := range lines {
		if l.AccountCode == "" {
			continue
		}
		if _, ok := seen[l.AccountCode]; ok {
			continue
		}
		seen[l.AccountCode] = struct{}{}
		e.Accounts = append(e.Accounts, l.AccountCode)
	}
	sort.Strings(e.Accounts)
	return e
}

func (e *PostingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Reason, e.Message)
	for _, l := range e.Lines {
		if l.AccountCode != "" {
			fmt.Fprintf(&b, "; line %d [%s] %s", l.Index, l.AccountCode, l.Detail)
			continue
		}
		fmt.Fprintf(&b, "; line %d %s", l.Index, l.Detail)
	}
	return b.String()
}

// Unwrap exposes the reason sentinel so callers can use errors.Is.
func (e *PostingError) Unwrap() error {
	return reasonSentinels[e.Reason]
}

// LineIndices returns the offending line indices in order.
func (e *PostingError) LineIndices() []int {
	out := make([]int, 0, len(e.Lines))
	for _, l := range e.Lines {
		out = append(out, l.Index)
	}
	return out
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var pe *PostingError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	for reason, sentinel := range reasonSentinels {
		if errors.Is(err, sentinel) {
			return reason, true
		}
	}
	return "", false
}

// IsRetryable reports whether the caller should retry after a short backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPeriodClosing) || errors.Is(err, ErrLockTimeout)
}

// IsCallerCorrectable reports validation rejections the submitting module must fix.
func IsCallerCorrectable(err error) bool {
	switch {
	case errors.Is(err, ErrAccountNotPostable),
		errors.Is(err, ErrMalformedLine),
		errors.Is(err, ErrMalformedEntry),
		errors.Is(err, ErrUnbalancedEntry),
		errors.Is(err, ErrPeriodClosed),
		errors.Is(err, ErrInvalidSubAccount),
		errors.Is(err, ErrIdempotencyMismatch):
		return true
	default:
		return false
	}
}
