package shared

import (
	"fmt"
	"strings"
)

// SubAccountKind enumerates the counterparties a ledger line may be tagged with.
type SubAccountKind string

const (
	SubAccountCustomer SubAccountKind = "CUSTOMER"
	SubAccountSupplier SubAccountKind = "SUPPLIER"
	SubAccountEmployee SubAccountKind = "EMPLOYEE"
	SubAccountBank     SubAccountKind = "BANK"
)

type (
	CustomerID int64
	SupplierID int64
	EmployeeID int64
	BankID     int64
)

// SubAccount is a closed set of counterparty references. Identity is the
// (kind, id) pair; the display name is a denormalised cache.
type SubAccount interface {
	Kind() SubAccountKind
	RefID() int64
	DisplayName() string
	isSubAccount()
}

// CustomerRef tags a line with a customer.
type CustomerRef struct {
	ID   CustomerID
	Name string
}

func (r CustomerRef) Kind() SubAccountKind { return SubAccountCustomer }
func (r CustomerRef) RefID() int64         { return int64(r.ID) }
func (r CustomerRef) DisplayName() string  { return r.Name }
func (CustomerRef) isSubAccount()          {}

// SupplierRef tags a line with a supplier.
type SupplierRef struct {
	ID   SupplierID
	Name string
}

func (r SupplierRef) Kind() SubAccountKind { return SubAccountSupplier }
func (r SupplierRef) RefID() int64         { return int64(r.ID) }
func (r SupplierRef) DisplayName() string  { return r.Name }
func (SupplierRef) isSubAccount()          {}

// EmployeeRef tags a line with an employee.
type EmployeeRef struct {
	ID   EmployeeID
	Name string
}

func (r EmployeeRef) Kind() SubAccountKind { return SubAccountEmployee }
func (r EmployeeRef) RefID() int64         { return int64(r.ID) }
func (r EmployeeRef) DisplayName() string  { return r.Name }
func (EmployeeRef) isSubAccount()          {}

// BankRef tags a line with a bank account.
type BankRef struct {
	ID   BankID
	Name string
}

func (r BankRef) Kind() SubAccountKind { return SubAccountBank }
func (r BankRef) RefID() int64         { return int64(r.ID) }
func (r BankRef) DisplayName() string  { return r.Name }
func (BankRef) isSubAccount()          {}

// NewSubAccount builds the variant for kind. It is the only decoder from
// untyped storage or wire values.
func NewSubAccount(kind SubAccountKind, id int64, name string) (SubAccount, error) {
	if id <= 0 {
		return nil, fmt.Errorf("accounting: sub-account id must be positive, got %d", id)
	}
	switch SubAccountKind(strings.ToUpper(string(kind))) {
	case SubAccountCustomer:
		return CustomerRef{ID: CustomerID(id), Name: name}, nil
	case SubAccountSupplier:
		return SupplierRef{ID: SupplierID(id), Name: name}, nil
	case SubAccountEmployee:
		return EmployeeRef{ID: EmployeeID(id), Name: name}, nil
	case SubAccountBank:
		return BankRef{ID: BankID(id), Name: name}, nil
	default:
		return nil, fmt.Errorf("accounting: unknown sub-account kind %q", kind)
	}
}

// SubAccountKey is the comparable identity of a sub-account.
type SubAccountKey struct {
	Kind SubAccountKind `json:"kind"`
	ID   int64          `json:"id"`
}

// KeyOf returns the identity of s, or the zero key for nil.
func KeyOf(s SubAccount) SubAccountKey {
	if s == nil {
		return SubAccountKey{}
	}
	return SubAccountKey{Kind: s.Kind(), ID: s.RefID()}
}

// IsZero reports whether the key references no sub-account.
func (k SubAccountKey) IsZero() bool {
	return k.Kind == "" && k.ID == 0
}

func (k SubAccountKey) String() string {
	if k.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}
