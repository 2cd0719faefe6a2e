package journals

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// LineInput is one requested debit or credit line.
type LineInput struct {
	AccountCode string
	SubAccount  shared.SubAccount
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

// PostingRequest is a journal entry group submitted by a document module.
type PostingRequest struct {
	CompanyID       int64
	Module          shared.Module
	DocumentID      string
	DocumentVersion int
	Reference       string
	PostingDate     time.Time
	Memo            string
	IsAdjusting     bool
	ActorID         int64
	Lines           []LineInput

	reverses *uuid.UUID
}

// IdempotencyKey derives the resubmission key from module, document and version.
func (r PostingRequest) IdempotencyKey() string {
	return fmt.Sprintf("%s/%s/%d", r.Module, r.DocumentID, r.DocumentVersion)
}

// Fingerprint hashes the canonical content of the request. Actor and memos are excluded.
func (r PostingRequest) Fingerprint() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d\x1f%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%t", r.CompanyID, r.Module, r.DocumentID, r.DocumentVersion,
		r.Reference, shared.DateOnly(r.PostingDate).Format(time.DateOnly), r.IsAdjusting)
	if r.reverses != nil {
		fmt.Fprintf(&b, "\x1frev:%s", r.reverses)
	}
	for _, l := range r.Lines {
		fmt.Fprintf(&b, "\x1e%s\x1f%s\x1f%s\x1f%s", l.AccountCode, shared.KeyOf(l.SubAccount),
			shared.FormatAmount(l.Debit), shared.FormatAmount(l.Credit))
	}
	return appshared.Fingerprint(b.Bytes())
}

// ReverseInput describes a reversal of a posted group.
type ReverseInput struct {
	GroupID     uuid.UUID
	ActorID     int64
	PostingDate *time.Time
	Memo        string
}

// PostingResult is returned for an accepted or already-posted group.
type PostingResult struct {
	GroupID   uuid.UUID   `json:"group_id"`
	EntryIDs  []uuid.UUID `json:"entry_ids"`
	Status    Status      `json:"status"`
	Duplicate bool        `json:"duplicate"`
	Group     Group       `json:"-"`
}

func resultOf(g Group, duplicate bool) PostingResult {
	return PostingResult{GroupID: g.ID, EntryIDs: g.EntryIDs(), Status: g.Status, Duplicate: duplicate, Group: g}
}
