package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Module identifies the sub-ledger that owns a document.
type Module string

const (
	ModuleGeneral         Module = "GENERAL"
	ModuleSales           Module = "SALES"
	ModulePurchase        Module = "PURCHASE"
	ModuleDisbursement    Module = "DISBURSEMENT"
	ModuleCollection      Module = "COLLECTION"
	ModuleShippingBilling Module = "SHIPPING_BILLING"
)

// ErrUnknownModule indicates a module code outside the known sub-ledgers.
var ErrUnknownModule = errors.New("accounting: unknown module")

// AllModules lists every sub-ledger in close order.
var AllModules = []Module{
	ModuleGeneral,
	ModuleSales,
	ModulePurchase,
	ModuleDisbursement,
	ModuleCollection,
	ModuleShippingBilling,
}

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	for _, known := range AllModules {
		if m == known {
			return true
		}
	}
	return false
}

// ParseModule normalises and validates a module code.
func ParseModule(s string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
	}
	return m, nil
}

// ParseModules parses a comma separated module list; an empty string yields AllModules.
func ParseModules(s string) ([]Module, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Module(nil), AllModules...), nil
	}
	var out []Module
	for _, part := range strings.Split(s, ",") {
		m, err := ParseModule(part)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
