// Package auth guards the run history API with static API keys.
package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// KeySet holds the SHA-256 hashes of the accepted keys.
type KeySet struct {
	hashes [][]byte
}

// NewKeySet builds a key set from configured entries. An entry is either a
// plaintext key or HashPrefix followed by the hex SHA-256 of the key.
func NewKeySet(entries []string) (*KeySet, error) {
	ks := &KeySet{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		hexHash := HashAPIKey(entry)
		if h, ok := strings.CutPrefix(entry, HashPrefix); ok {
			hexHash = strings.ToLower(h)
		}

		hash, err := hex.DecodeString(hexHash)
		if err != nil || len(hash) != 32 {
			return nil, fmt.Errorf("invalid key hash %q", entry)
		}
		ks.hashes = append(ks.hashes, hash)
	}
	return ks, nil
}

// Len is the number of accepted keys.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.hashes)
}

// Valid reports whether key is in the set.
func (ks *KeySet) Valid(key string) bool {
	if ks == nil || key == "" {
		return false
	}
	hash, _ := hex.DecodeString(HashAPIKey(key))

	// Compare against every entry so timing does not reveal the match index
	match := 0
	for _, h := range ks.hashes {
		match |= subtle.ConstantTimeCompare(hash, h)
	}
	return match == 1
}

// keyFromRequest reads X-API-Key, falling back to a bearer token.
func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid key. An empty key set disables the check.
func Middleware(keys *KeySet, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keys.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFromRequest(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}
			if !keys.Valid(key) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
