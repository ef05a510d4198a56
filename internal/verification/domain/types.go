// Package domain contains the contract verification pipeline: artifact
// matching, already-verified filtering, constructor argument recovery,
// submission and polling.
package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/etherscan"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
)

// Common errors returned by the verification service.
var (
	ErrMissingAPIKey       = errors.New("missing etherscan API key")
	ErrInvalidAPIKey       = errors.New("etherscan rejected the API key")
	ErrMissingNetwork      = errors.New("no network specified")
	ErrDuplicateArtifact   = errors.New("duplicate artifact key")
	ErrTransactionNotFound = chains.ErrTransactionNotFound
)

// MaxLibraries is the number of linked libraries the explorer accepts.
const MaxLibraries = 10

// Explorer is the block explorer API used by the pipeline.
type Explorer interface {
	IsVerified(ctx context.Context, address string) (bool, error)
	SubmitVerification(ctx context.Context, req etherscan.VerifyRequest) (string, error)
	CheckStatus(ctx context.Context, guid string) (*etherscan.VerifyStatus, error)
}

// Flattener produces a single-file source for a contract source path.
type Flattener interface {
	Flatten(ctx context.Context, sourcePath string) (string, error)
}

// Library is a library linked into a contract.
type Library struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// DeploymentInfo locates a contract on the target network.
type DeploymentInfo struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash"`
}

// ArtifactRecord is an artifact that has a deployment on the target network.
type ArtifactRecord struct {
	ContractName           string         `json:"contractName"`
	CompilerVersion        string         `json:"compilerVersion"`
	Bytecode               string         `json:"-"`
	SourcePath             string         `json:"sourcePath"`
	HasNonEmptyConstructor bool           `json:"hasNonEmptyConstructor"`
	Libraries              []Library      `json:"libraries,omitempty"`
	Deployment             DeploymentInfo `json:"deployment"`
}

// CandidateSet maps artifact key to record.
type CandidateSet map[string]ArtifactRecord

// Keys returns the artifact keys in sorted order.
func (c CandidateSet) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConstructorArgs maps artifact key to ABI-encoded constructor arguments,
// hex without 0x.
type ConstructorArgs map[string]string

// JobState is the lifecycle state of a submission.
type JobState string

// Job states.
const (
	JobSubmitted JobState = "submitted"
	JobPending   JobState = "pending"
	JobVerified  JobState = "verified"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further polling happens in this state.
func (s JobState) Terminal() bool {
	return s == JobVerified || s == JobFailed
}

// SubmissionJob tracks a queued verification request.
type SubmissionJob struct {
	GUID        string
	ArtifactKey string
	State       JobState
	Polls       int
}

// Optimizer is the optimizer configuration used at compile time.
type Optimizer struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	Runs    int  `toml:"runs" json:"runs"`
}

// DefaultOptimizer matches solc's defaults.
func DefaultOptimizer() Optimizer {
	return Optimizer{Enabled: false, Runs: 200}
}

// DefaultPollInterval is the wait between verification status polls.
const DefaultPollInterval = 20 * time.Second

// RunConfig configures one verification run.
type RunConfig struct {
	NetworkID    string
	APIKey       string
	Optimizer    Optimizer
	PollInterval time.Duration
	// MaxPollRounds marks jobs still pending after this many rounds as
	// failed. Zero polls until every job resolves.
	MaxPollRounds int
	// OutputDir, when set, receives a flattened copy of every matched source.
	OutputDir string
	Verbose   bool
}

// ContractRef identifies the on-chain contract behind an artifact key.
type ContractRef struct {
	ContractName string `json:"contractName"`
	Address      string `json:"address"`
	GUID         string `json:"guid,omitempty"`
}

// Report is the outcome of a run. AlreadyVerified, Succeeded and Failed are
// sorted and pairwise disjoint.
type Report struct {
	AlreadyVerified []string               `json:"alreadyVerified"`
	Succeeded       []string               `json:"succeeded"`
	Failed          []string               `json:"failed"`
	Skipped         map[string]string      `json:"skipped,omitempty"`
	Messages        map[string]string      `json:"messages,omitempty"`
	Contracts       map[string]ContractRef `json:"contracts,omitempty"`
	ConstructorArgs ConstructorArgs        `json:"constructorArgs,omitempty"`
	FlattenedFiles  []string               `json:"flattenedFiles,omitempty"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{
		AlreadyVerified: []string{},
		Succeeded:       []string{},
		Failed:          []string{},
		Skipped:         make(map[string]string),
		Messages:        make(map[string]string),
		Contracts:       make(map[string]ContractRef),
	}
}

func (r *Report) alreadyVerified(key, msg string) {
	r.AlreadyVerified = append(r.AlreadyVerified, key)
	r.note(key, msg)
}

func (r *Report) succeed(key, msg string) {
	r.Succeeded = append(r.Succeeded, key)
	r.note(key, msg)
}

func (r *Report) fail(key, msg string) {
	r.Failed = append(r.Failed, key)
	r.note(key, msg)
}

func (r *Report) note(key, msg string) {
	if msg != "" {
		r.Messages[key] = msg
	}
}

// merge folds other into r.
func (r *Report) merge(other *Report) {
	r.AlreadyVerified = append(r.AlreadyVerified, other.AlreadyVerified...)
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
	for k, v := range other.Skipped {
		r.Skipped[k] = v
	}
	for k, v := range other.Messages {
		r.Messages[k] = v
	}
	for k, v := range other.Contracts {
		r.Contracts[k] = v
	}
}

func (r *Report) sort() {
	sort.Strings(r.AlreadyVerified)
	sort.Strings(r.Succeeded)
	sort.Strings(r.Failed)
}

// Total is the number of contracts with an outcome.
func (r *Report) Total() int {
	return len(r.AlreadyVerified) + len(r.Succeeded) + len(r.Failed)
}

// Outcome returns the outcome bucket of key, or "" when it has none. Only
// valid on a report returned by Run.
func (r *Report) Outcome(key string) string {
	for _, bucket := range []struct {
		name string
		keys []string
	}{
		{metrics.OutcomeAlreadyVerified, r.AlreadyVerified},
		{metrics.OutcomeSucceeded, r.Succeeded},
		{metrics.OutcomeFailed, r.Failed},
	} {
		i := sort.SearchStrings(bucket.keys, key)
		if i < len(bucket.keys) && bucket.keys[i] == key {
			return bucket.name
		}
	}
	if _, ok := r.Skipped[key]; ok {
		return metrics.OutcomeSkipped
	}
	return ""
}
