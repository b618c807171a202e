// Package wallet validates and normalizes wallet addresses used as identity keys.
package wallet

import (
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"

	dErrors "humanitylink/pkg/domain-errors"
)

// Kind is the address family a wallet address was recognised as.
type Kind string

const (
	KindEVM    Kind = "evm"
	KindSolana Kind = "solana"
	KindOther  Kind = "other"
)

// minOtherLength is the length an address of an unrecognised family must exceed.
const minOtherLength = 10

var evmAddress = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Classify reports the address family, or false when the address is not
// acceptable at all.
func Classify(address string) (Kind, bool) {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return "", false
	case evmAddress.MatchString(address):
		return KindEVM, true
	}
	if _, err := solana.PublicKeyFromBase58(address); err == nil {
		return KindSolana, true
	}
	if len(address) > minOtherLength {
		return KindOther, true
	}
	return "", false
}

// Normalize validates address and returns the comparison key for it.
// Comparison across the system is case-insensitive.
func Normalize(address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "wallet address is required")
	}
	if _, ok := Classify(address); !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid wallet address format")
	}
	return Key(address), nil
}

// Key returns the case-folded comparison key without validating.
func Key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// Redact shortens an address for log lines.
func Redact(address string) string {
	address = strings.TrimSpace(address)
	if len(address) <= 10 {
		return address
	}
	return address[:10] + "..."
}
