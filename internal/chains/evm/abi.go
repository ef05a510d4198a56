package evm

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// HasNonEmptyConstructor reports whether the ABI declares a constructor that
// takes at least one argument.
func HasNonEmptyConstructor(abiJSON json.RawMessage) bool {
	if len(abiJSON) == 0 {
		return false
	}

	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err == nil {
		return len(parsed.Constructor.Inputs) > 0
	}

	// go-ethereum rejects some hand-written or legacy ABIs; only the
	// constructor entry matters here.
	var entries []struct {
		Type   string            `json:"type"`
		Inputs []json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(abiJSON, &entries); err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type == "constructor" && len(e.Inputs) > 0 {
			return true
		}
	}
	return false
}
