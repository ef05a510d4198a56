package etherscan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAPIKey is returned when the explorer rejects the API key.
	ErrInvalidAPIKey = errors.New("invalid or missing etherscan API key")

	// ErrAlreadyVerified is returned when a submission targets a contract
	// whose source is already published.
	ErrAlreadyVerified = errors.New("contract source code already verified")
)

// Markers the explorer puts in the result field.
const (
	pendingMarker         = "Pending"
	verifiedMarker        = "Verified"
	alreadyVerifiedMarker = "already verified"
)

var invalidKeyMarkers = []string{
	"Missing or invalid ApiKey",
	"Invalid API Key",
}

// response is the envelope of every contract module call.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// APIError is a verification request the explorer answered with status "0".
type APIError struct {
	Status  string
	Message string
	Result  string
}

func (e *APIError) Error() string {
	if e.Result == "" {
		return fmt.Sprintf("etherscan: %s", e.Message)
	}
	return fmt.Sprintf("etherscan: %s", e.Result)
}

// VerifyRequest is the form posted to the verifysourcecode action.
type VerifyRequest struct {
	Address              string
	ContractName         string
	CompilerVersion      string
	OptimizationUsed     bool
	Runs                 int
	SourceCode           string
	ConstructorArguments string
	Libraries            []Library
}

// Library is a linked library, numbered from 1 in the order given.
type Library struct {
	Name    string
	Address string
}

// VerifyStatus is the answer to a checkverifystatus call.
type VerifyStatus struct {
	Status string
	Result string
}

// Pending reports whether the explorer is still processing the submission.
func (s *VerifyStatus) Pending() bool {
	return strings.Contains(s.Result, pendingMarker)
}

// AlreadyVerified reports whether the explorer published source for the
// contract through another submission while this one was queued.
func (s *VerifyStatus) AlreadyVerified() bool {
	return isAlreadyVerified(s.Result)
}

// Verified reports whether the submission succeeded.
func (s *VerifyStatus) Verified() bool {
	return s.Status != "0" && strings.Contains(s.Result, verifiedMarker)
}

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), alreadyVerifiedMarker)
}
