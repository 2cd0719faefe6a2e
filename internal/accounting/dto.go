package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recordlocks"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

type subAccountPayload struct {
	Kind string `json:"kind" validate:"required"`
	ID   int64  `json:"id" validate:"gt=0"`
	Name string `json:"name"`
}

type linePayload struct {
	AccountCode string             `json:"account_code" validate:"required"`
	SubAccount  *subAccountPayload `json:"sub_account,omitempty"`
	Debit       decimal.Decimal    `json:"debit"`
	Credit      decimal.Decimal    `json:"credit"`
	Memo        string             `json:"memo"`
}

// postingPayload is the wire form of a journal entry group.
type postingPayload struct {
	CompanyID       int64         `json:"company_id" validate:"required,gt=0"`
	Module          string        `json:"module" validate:"required"`
	DocumentID      string        `json:"document_id" validate:"required,max=128"`
	DocumentVersion int           `json:"document_version" validate:"gte=0"`
	Reference       string        `json:"reference" validate:"max=128"`
	PostingDate     string        `json:"posting_date" validate:"required,datetime=2006-01-02"`
	Memo            string        `json:"memo" validate:"max=512"`
	IsAdjusting     bool          `json:"is_adjusting"`
	Lines           []linePayload `json:"lines" validate:"dive"`
}

func (p postingPayload) toRequest(actorID int64) (journals.PostingRequest, error) {
	date, err := time.Parse(time.DateOnly, p.PostingDate)
	if err != nil {
		return journals.PostingRequest{}, shared.Reject(shared.ReasonMalformedEntry, "posting_date must be YYYY-MM-DD")
	}
	req := journals.PostingRequest{
		CompanyID:       p.CompanyID,
		Module:          shared.Module(strings.ToUpper(strings.TrimSpace(p.Module))),
		DocumentID:      strings.TrimSpace(p.DocumentID),
		DocumentVersion: p.DocumentVersion,
		Reference:       p.Reference,
		PostingDate:     date,
		Memo:            p.Memo,
		IsAdjusting:     p.IsAdjusting,
		ActorID:         actorID,
	}
	var issues []shared.LineIssue
	for i, l := range p.Lines {
		line := journals.LineInput{AccountCode: l.AccountCode, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
		if l.SubAccount != nil {
			sub, err := shared.NewSubAccount(shared.SubAccountKind(l.SubAccount.Kind), l.SubAccount.ID, l.SubAccount.Name)
			if err != nil {
				issues = append(issues, shared.LineIssue{Index: i, AccountCode: l.AccountCode, Detail: err.Error()})
				continue
			}
			line.SubAccount = sub
		}
		req.Lines = append(req.Lines, line)
	}
	if len(issues) > 0 {
		return journals.PostingRequest{}, shared.Reject(shared.ReasonInvalidSubAccount, "sub-account reference could not be decoded", issues...)
	}
	return req, nil
}

type reversePayload struct {
	PostingDate string `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Memo        string `json:"memo" validate:"max=512"`
}

type reopenPayload struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type recordLockPayload struct {
	CompanyID  int64           `json:"company_id" validate:"required,gt=0"`
	Module     string          `json:"module" validate:"required,oneof=SALES PURCHASE sales purchase"`
	DocumentID string          `json:"document_id" validate:"required,max=128"`
	AsOf       string          `json:"as_of" validate:"required,datetime=2006-01-02"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

func (p recordLockPayload) toInput(actorID int64) (recordlocks.LockInput, error) {
	asOf, err := time.Parse(time.DateOnly, p.AsOf)
	if err != nil {
		return recordlocks.LockInput{}, fmt.Errorf("%w: as_of must be YYYY-MM-DD", recordlocks.ErrInvalidReference)
	}
	return recordlocks.LockInput{
		Document: recordlocks.DocumentRef{
			CompanyID:  p.CompanyID,
			Module:     shared.Module(strings.ToUpper(p.Module)),
			DocumentID: strings.TrimSpace(p.DocumentID),
		},
		AsOf:     asOf,
		Quantity: p.Quantity,
		Price:    p.Price,
		ActorID:  actorID,
	}, nil
}
