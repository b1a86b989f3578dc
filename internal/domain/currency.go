package domain

import "strings"

// CurrencyRegistry is the membership test for recognized currency codes.
// The engine consults it before taking any lock; callers supply the set.
type CurrencyRegistry struct {
	codes map[string]struct{}
}

// NewCurrencyRegistry builds a registry over the given ISO-style codes.
func NewCurrencyRegistry(codes ...string) *CurrencyRegistry {
	r := &CurrencyRegistry{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		r.Register(c)
	}
	return r
}

// DefaultCurrencies returns a registry with the codes the original service shipped with.
func DefaultCurrencies() *CurrencyRegistry {
	return NewCurrencyRegistry("USD", "EUR", "GBP", "CNY", "HKD", "JPY", "TWD")
}

// Register adds a code to the recognized set.
func (r *CurrencyRegistry) Register(code string) {
	r.codes[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
}

// Recognized reports whether code is a known 3-letter currency code.
func (r *CurrencyRegistry) Recognized(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return false
	}
	_, ok := r.codes[code]
	return ok
}
