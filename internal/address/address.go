// Package address validates identifiers before they reach ledger state.
package address

import (
	"regexp"
	"strings"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
)

var (
	// strkey form: account (G) or contract (C), 56 chars of base32.
	reAddress   = regexp.MustCompile(`^[GC][A-Z2-7]{55}$`)
	reAsset     = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)
	reReference = regexp.MustCompile(`^[A-Za-z0-9._:/-]{1,128}$`)
)

// Normalize trims s and upper-cases it.
func Normalize(s string) ledger.Address {
	return ledger.Address(strings.ToUpper(strings.TrimSpace(s)))
}

// IsAddress returns true if a is a well-formed account or contract address.
func IsAddress(a ledger.Address) bool { return reAddress.MatchString(string(a)) }

// IsAsset returns true if s matches ^[A-Z0-9]{1,12}$
func IsAsset(s string) bool { return reAsset.MatchString(s) }

// IsReference returns true if s is a usable settlement reference.
func IsReference(s string) bool { return reReference.MatchString(s) }

// Check fails with errs.ErrInvalidAddress on the first malformed address.
func Check(addrs ...ledger.Address) error {
	for _, a := range addrs {
		if !IsAddress(a) {
			return errs.ErrInvalidAddress
		}
	}
	return nil
}

// CheckAsset fails with errs.ErrInvalidAddress when s is not an asset identifier.
func CheckAsset(s string) error {
	if !IsAsset(s) {
		return errs.ErrInvalidAddress
	}
	return nil
}

// CheckReference fails with errs.ErrInvalidAddress when s is not a usable reference.
func CheckReference(s string) error {
	if !IsReference(s) {
		return errs.ErrInvalidAddress
	}
	return nil
}
