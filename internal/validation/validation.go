// Package validation provides input validation for contraverify.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Solidity compiler identifiers look like 0.5.2+commit.1df8f40c, optionally
// followed by platform suffixes (.Emscripten.clang, .Linux.g++).
var compilerTagRegex = regexp.MustCompile(`(?i)[\w.+-]+?commit\.[\da-f]+`)

var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// CompilerVersionTag extracts the explorer compiler identifier from a raw
// compiler version string. The result is v-prefixed, e.g. v0.5.2+commit.1df8f40c.
func CompilerVersionTag(raw string) (string, error) {
	match := compilerTagRegex.FindString(raw)
	if match == "" {
		return "", fmt.Errorf("no compiler commit tag in %q", raw)
	}
	match = strings.TrimPrefix(match, "v")

	core, _, _ := strings.Cut(match, "+")
	if !semver.IsValid("v" + core) {
		return "", fmt.Errorf("invalid compiler version %q", core)
	}

	return "v" + match, nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !IsHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateTxHash validates a transaction hash.
func ValidateTxHash(hash string) error {
	if !txHashRegex.MatchString(hash) {
		return errors.New("invalid transaction hash: must be 0x followed by 64 hex characters")
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// IsHex reports whether s is non-empty and consists only of hex digits.
func IsHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}
