// Package chains holds the chain-facing contracts shared by block explorer
// and node clients.
package chains

import (
	"context"
	"errors"
)

// ErrTransactionNotFound is returned when a transaction hash is unknown to
// the queried source.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionFetcher returns the input data of a transaction.
type TransactionFetcher interface {
	// TransactionInput returns the 0x-prefixed input of the transaction, or
	// ErrTransactionNotFound.
	TransactionInput(ctx context.Context, hash string) (string, error)
}

// Match types reported when recovering constructor arguments.
const (
	MatchFull    = "full"    // creation input starts with the artifact bytecode
	MatchPartial = "partial" // recovered after the embedded metadata hash
	MatchNone    = "none"
)
