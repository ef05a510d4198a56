package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/artifacts"
	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/etherscan"
)

const testNetwork = "5"

// mockExplorer implements Explorer for testing
type mockExplorer struct {
	mu sync.Mutex

	verified  map[string]bool
	verifyErr map[string]error

	submit    func(ctx context.Context, req etherscan.VerifyRequest) (string, error)
	submitted []etherscan.VerifyRequest

	statuses  map[string][]*etherscan.VerifyStatus
	statusErr map[string]error
	polls     map[string]int
	onPoll    func(guid string)

	statusChecks int
}

func newMockExplorer() *mockExplorer {
	return &mockExplorer{
		verified:  make(map[string]bool),
		verifyErr: make(map[string]error),
		statuses:  make(map[string][]*etherscan.VerifyStatus),
		statusErr: make(map[string]error),
		polls:     make(map[string]int),
	}
}

func (m *mockExplorer) IsVerified(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusChecks++
	if err := m.verifyErr[address]; err != nil {
		return false, err
	}
	return m.verified[address], nil
}

func (m *mockExplorer) SubmitVerification(ctx context.Context, req etherscan.VerifyRequest) (string, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, req)
	submit := m.submit
	m.mu.Unlock()

	if submit == nil {
		return "guid-" + req.ContractName, nil
	}
	return submit(ctx, req)
}

func (m *mockExplorer) CheckStatus(ctx context.Context, guid string) (*etherscan.VerifyStatus, error) {
	if m.onPoll != nil {
		m.onPoll(guid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.polls[guid]
	m.polls[guid] = n + 1

	if err := m.statusErr[guid]; err != nil {
		return nil, err
	}
	seq := m.statuses[guid]
	if len(seq) == 0 {
		return &etherscan.VerifyStatus{Status: "1", Result: "Pass - Verified"}, nil
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (m *mockExplorer) submissions() []etherscan.VerifyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]etherscan.VerifyRequest(nil), m.submitted...)
}

// mockTxs implements chains.TransactionFetcher for testing
type mockTxs struct {
	inputs map[string]string
}

func (m *mockTxs) TransactionInput(ctx context.Context, hash string) (string, error) {
	input, ok := m.inputs[hash]
	if !ok {
		return "", chains.ErrTransactionNotFound
	}
	return input, nil
}

// mockFlattener implements Flattener for testing
type mockFlattener struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func newMockFlattener() *mockFlattener {
	return &mockFlattener{errs: make(map[string]error), calls: make(map[string]int)}
}

func (m *mockFlattener) Flatten(ctx context.Context, sourcePath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[sourcePath]++
	if err := m.errs[sourcePath]; err != nil {
		return "", err
	}
	return "// flattened " + filepath.Base(sourcePath), nil
}

func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func address(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func testArtifact(name string, n int) *artifacts.Artifact {
	return &artifacts.Artifact{
		ContractName: name,
		ABI:          json.RawMessage(`[]`),
		Bytecode:     "0x6080604052",
		SourcePath:   "/project/contracts/" + name + ".sol",
		Compiler:     artifacts.Compiler{Name: "solc", Version: "0.5.2+commit.1df8f40c.Emscripten.clang"},
		Networks: map[string]artifacts.Deployment{
			testNetwork: {Address: address(n), TransactionHash: txHash(n)},
		},
	}
}

func entry(a *artifacts.Artifact) artifacts.Entry {
	return artifacts.Entry{Key: "/project/build/contracts/" + a.ContractName + ".json", Artifact: a}
}

func testConfig() RunConfig {
	return RunConfig{
		NetworkID: testNetwork,
		APIKey:    "test-key",
		Optimizer: DefaultOptimizer(),
	}
}

func assertPartition(t *testing.T, report *Report) {
	t.Helper()
	seen := make(map[string]string)
	for name, keys := range map[string][]string{
		"alreadyVerified": report.AlreadyVerified,
		"succeeded":       report.Succeeded,
		"failed":          report.Failed,
	} {
		for _, k := range keys {
			if prev, ok := seen[k]; ok {
				t.Errorf("%s is in both %s and %s", k, prev, name)
			}
			seen[k] = name
		}
	}
	for k := range report.Skipped {
		_, ok := seen[k]
		assert.False(t, ok, "skipped artifact %s also has an outcome", k)
	}
}

func TestMatchArtifacts(t *testing.T) {
	withCtor := testArtifact("Token", 1)
	withCtor.ABI = json.RawMessage(`[{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}]}]`)

	linked := testArtifact("Registry", 2)
	dep := linked.Networks[testNetwork]
	dep.Links = map[string]string{"SafeMath": address(10), "Math": address(11)}
	linked.Networks[testNetwork] = dep

	elsewhere := testArtifact("Mainnet", 3)
	elsewhere.Networks = map[string]artifacts.Deployment{"1": {Address: address(3)}}

	badCompiler := testArtifact("Old", 4)
	badCompiler.Compiler.Version = "0.4.24"

	tooMany := testArtifact("Huge", 5)
	dep = tooMany.Networks[testNetwork]
	dep.Links = make(map[string]string)
	for i := 0; i < 11; i++ {
		dep.Links[fmt.Sprintf("Lib%02d", i)] = address(100 + i)
	}
	tooMany.Networks[testNetwork] = dep

	badAddress := testArtifact("Broken", 6)
	dep = badAddress.Networks[testNetwork]
	dep.Address = "0x1234"
	badAddress.Networks[testNetwork] = dep

	entries := []artifacts.Entry{
		entry(withCtor), entry(linked), entry(elsewhere),
		entry(badCompiler), entry(tooMany), entry(badAddress),
	}

	candidates, skipped, err := MatchArtifacts(entries, testNetwork, nil)
	require.NoError(t, err)

	assert.Len(t, candidates, 2)
	token := candidates[entry(withCtor).Key]
	assert.Equal(t, "Token", token.ContractName)
	assert.Equal(t, "v0.5.2+commit.1df8f40c", token.CompilerVersion)
	assert.True(t, token.HasNonEmptyConstructor)
	assert.Equal(t, address(1), token.Deployment.Address)
	assert.Equal(t, txHash(1), token.Deployment.TransactionHash)

	registry := candidates[entry(linked).Key]
	assert.False(t, registry.HasNonEmptyConstructor)
	assert.Equal(t, []Library{
		{Name: "Math", Address: address(11)},
		{Name: "SafeMath", Address: address(10)},
	}, registry.Libraries)

	assert.NotContains(t, candidates, entry(elsewhere).Key)
	assert.NotContains(t, skipped, entry(elsewhere).Key)

	assert.Contains(t, skipped[entry(badCompiler).Key], "compiler version")
	assert.Contains(t, skipped[entry(tooMany).Key], "11 libraries")
	assert.Contains(t, skipped[entry(badAddress).Key], "invalid deployment address")
	assert.Len(t, skipped, 3)
}

func TestMatchArtifacts_Errors(t *testing.T) {
	a := testArtifact("Token", 1)

	_, _, err := MatchArtifacts([]artifacts.Entry{entry(a)}, "", nil)
	assert.True(t, errors.Is(err, ErrMissingNetwork))

	_, _, err = MatchArtifacts([]artifacts.Entry{entry(a), entry(a)}, testNetwork, nil)
	assert.True(t, errors.Is(err, ErrDuplicateArtifact))

	_, _, err = MatchArtifacts([]artifacts.Entry{{Key: "", Artifact: a}}, testNetwork, nil)
	assert.Error(t, err)

	candidates, skipped, err := MatchArtifacts(nil, testNetwork, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Empty(t, skipped)
}

func TestMatchArtifacts_LinksBytecode(t *testing.T) {
	a := testArtifact("Registry", 1)
	a.Bytecode = "0x6080__SafeMath" + strings.Repeat("_", 30) + "6040"
	dep := a.Networks[testNetwork]
	dep.Links = map[string]string{"SafeMath": address(0xaa)}
	a.Networks[testNetwork] = dep

	candidates, _, err := MatchArtifacts([]artifacts.Entry{entry(a)}, testNetwork, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x6080"+strings.TrimPrefix(address(0xaa), "0x")+"6040", candidates[entry(a).Key].Bytecode)
}

func TestMatchArtifacts_SkipsUnverifiable(t *testing.T) {
	ctorABI := json.RawMessage(`[{"type":"constructor","inputs":[{"name":"owner","type":"address"}]}]`)

	badHash := testArtifact("Token", 1)
	badHash.ABI = ctorABI
	dep := badHash.Networks[testNetwork]
	dep.TransactionHash = "0xabc"
	badHash.Networks[testNetwork] = dep

	// Without constructor arguments the transaction is never fetched.
	noCtor := testArtifact("Plain", 2)
	dep = noCtor.Networks[testNetwork]
	dep.TransactionHash = ""
	noCtor.Networks[testNetwork] = dep

	unlinked := testArtifact("Registry", 3)
	unlinked.Bytecode = "0x6080__SafeMath" + strings.Repeat("_", 30) + "6040"

	partly := testArtifact("Vault", 4)
	partly.Bytecode = "0x6080__SafeMath" + strings.Repeat("_", 30) + "__Math" + strings.Repeat("_", 34) + "6040"
	dep = partly.Networks[testNetwork]
	dep.Links = map[string]string{"SafeMath": address(0xaa)}
	partly.Networks[testNetwork] = dep

	entries := []artifacts.Entry{entry(badHash), entry(noCtor), entry(unlinked), entry(partly)}
	candidates, skipped, err := MatchArtifacts(entries, testNetwork, nil)
	require.NoError(t, err)

	assert.Len(t, candidates, 1)
	assert.Contains(t, candidates, entry(noCtor).Key)
	assert.Contains(t, skipped[entry(badHash).Key], "invalid transaction hash")
	assert.Contains(t, skipped[entry(unlinked).Key], "not linked")
	assert.Contains(t, skipped[entry(partly).Key], "not linked")
}

func TestService_Run_LibraryLimit(t *testing.T) {
	a := testArtifact("Huge", 1)
	dep := a.Networks[testNetwork]
	dep.Links = make(map[string]string)
	for i := 0; i < 11; i++ {
		dep.Links[fmt.Sprintf("Lib%02d", i)] = address(100 + i)
	}
	a.Networks[testNetwork] = dep

	explorer := newMockExplorer()
	svc := NewService(explorer, &mockTxs{}, newMockFlattener(), nil)

	report, err := svc.Run(context.Background(), []artifacts.Entry{entry(a)}, testConfig())
	require.NoError(t, err)

	assert.Empty(t, explorer.submissions())
	assert.Equal(t, 0, report.Total())
	assert.Contains(t, report.Skipped, entry(a).Key)
	assert.Equal(t, "skipped", report.Outcome(entry(a).Key))
}

func TestService_Run_MissingAPIKey(t *testing.T) {
	explorer := newMockExplorer()
	svc := NewService(explorer, &mockTxs{}, newMockFlattener(), nil)

	cfg := testConfig()
	cfg.APIKey = ""

	_, err := svc.Run(context.Background(), []artifacts.Entry{entry(testArtifact("Token", 1))}, cfg)
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
	assert.Equal(t, 0, explorer.statusChecks)
	assert.Empty(t, explorer.submissions())
}

func TestService_Run_AlreadyVerifiedShortCircuits(t *testing.T) {
	explorer := newMockExplorer()
	flattener := newMockFlattener()
	svc := NewService(explorer, &mockTxs{}, flattener, nil)

	entries := []artifacts.Entry{entry(testArtifact("A", 1)), entry(testArtifact("B", 2))}
	explorer.verified[address(1)] = true
	explorer.verified[address(2)] = true

	report, err := svc.Run(context.Background(), entries, testConfig())
	require.NoError(t, err)

	assert.Len(t, report.AlreadyVerified, 2)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.Empty(t, explorer.submissions())
	assert.Empty(t, explorer.polls)
	assert.Empty(t, flattener.calls)
}

func TestService_Run_StatusCheckErrorMeansUnverified(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		t.Run(fmt.Sprintf("verbose=%t", verbose), func(t *testing.T) {
			explorer := newMockExplorer()
			explorer.verifyErr[address(1)] = errors.New("connection refused")

			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			svc := NewService(explorer, &mockTxs{}, newMockFlattener(), logger)

			cfg := testConfig()
			cfg.Verbose = verbose

			report, err := svc.Run(context.Background(), []artifacts.Entry{entry(testArtifact("A", 1))}, cfg)
			require.NoError(t, err)

			assert.Len(t, explorer.submissions(), 1)
			assert.Equal(t, []string{entry(testArtifact("A", 1)).Key}, report.Succeeded)

			if verbose {
				assert.Contains(t, logs.String(), "level=WARN msg=\"could not check verification status\"")
				assert.Contains(t, logs.String(), "connection refused")
			} else {
				assert.NotContains(t, logs.String(), "could not check verification status")
				assert.NotContains(t, logs.String(), "connection refused")
			}
		})
	}
}

func TestService_Run_EndToEnd(t *testing.T) {
	explorer := newMockExplorer()
	explorer.verified[address(1)] = true
	explorer.verified[address(2)] = true
	explorer.statuses["guid-C"] = []*etherscan.VerifyStatus{
		{Status: "0", Result: "Pending in queue"},
		{Status: "1", Result: "Pass - Verified"},
	}
	explorer.statuses["guid-D"] = []*etherscan.VerifyStatus{
		{Status: "0", Result: "Fail - Unable to verify"},
	}

	entries := []artifacts.Entry{
		entry(testArtifact("A", 1)),
		entry(testArtifact("B", 2)),
		entry(testArtifact("C", 3)),
		entry(testArtifact("D", 4)),
	}

	svc := NewService(explorer, &mockTxs{}, newMockFlattener(), nil)
	report, err := svc.Run(context.Background(), entries, testConfig())
	require.NoError(t, err)

	assert.Len(t, report.AlreadyVerified, 2)
	assert.Len(t, report.Succeeded, 1)
	assert.Len(t, report.Failed, 1)
	assert.Equal(t, []string{entries[2].Key}, report.Succeeded)
	assert.Equal(t, []string{entries[3].Key}, report.Failed)
	assert.Equal(t, "Fail - Unable to verify", report.Messages[entries[3].Key])
	assert.Equal(t, "guid-C", report.Contracts[entries[2].Key].GUID)
	assertPartition(t, report)

	subs := explorer.submissions()
	require.Len(t, subs, 2)
	for _, req := range subs {
		assert.Equal(t, "v0.5.2+commit.1df8f40c", req.CompilerVersion)
		assert.False(t, req.OptimizationUsed)
		assert.Equal(t, 200, req.Runs)
		assert.Contains(t, req.SourceCode, "// flattened")
		assert.Empty(t, req.ConstructorArguments)
	}
}

func TestService_Run_FatalKeyAbort(t *testing.T) {
	explorer := newMockExplorer()

	var mu sync.Mutex
	posted := 0
	explorer.submit = func(ctx context.Context, req etherscan.VerifyRequest) (string, error) {
		mu.Lock()
		first := posted == 0
		if first {
			posted++
		}
		mu.Unlock()

		if first {
			return "", fmt.Errorf("%w: Missing or invalid ApiKey", etherscan.ErrInvalidAPIKey)
		}

		// Later submissions wait for a rate limiter slot, the way the
		// explorer client paces requests.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		mu.Lock()
		posted++
		mu.Unlock()
		return "guid-" + req.ContractName, nil
	}

	entries := []artifacts.Entry{
		entry(testArtifact("A", 1)),
		entry(testArtifact("B", 2)),
		entry(testArtifact("C", 3)),
	}

	svc := NewService(explorer, &mockTxs{}, newMockFlattener(), nil)
	report, err := svc.Run(context.Background(), entries, testConfig())

	assert.True(t, errors.Is(err, ErrInvalidAPIKey))
	assert.Nil(t, report)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, posted)
	assert.Empty(t, explorer.polls)
}

func TestService_Run_SubmissionOutcomes(t *testing.T) {
	explorer := newMockExplorer()
	explorer.submit = func(ctx context.Context, req etherscan.VerifyRequest) (string, error) {
		switch req.ContractName {
		case "Dup":
			return "", fmt.Errorf("%w: Contract source code already verified", etherscan.ErrAlreadyVerified)
		case "Bad":
			return "", &etherscan.APIError{Status: "0", Message: "NOTOK", Result: "Invalid constructor arguments"}
		case "Down":
			return "", errors.New("HTTP 502: bad gateway")
		}
		return "guid-" + req.ContractName, nil
	}

	flattener := newMockFlattener()
	noSource := testArtifact("NoSource", 4)
	flattener.errs[noSource.SourcePath] = errors.New("import not found")

	entries := []artifacts.Entry{
		entry(testArtifact("Dup", 1)),
		entry(testArtifact("Bad", 2)),
		entry(testArtifact("Down", 3)),
		entry(noSource),
		entry(testArtifact("Good", 5)),
	}

	svc := NewService(explorer, &mockTxs{}, flattener, nil)
	report, err := svc.Run(context.Background(), entries, testConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{entries[0].Key}, report.AlreadyVerified)
	assert.Equal(t, []string{entries[4].Key}, report.Succeeded)
	assert.ElementsMatch(t, []string{entries[1].Key, entries[2].Key, entries[3].Key}, report.Failed)
	assert.Contains(t, report.Messages[entries[1].Key], "Invalid constructor arguments")
	assert.Contains(t, report.Messages[entries[3].Key], "import not found")
	assertPartition(t, report)

	// The contract whose source could not be flattened is never posted.
	for _, req := range explorer.submissions() {
		assert.NotEqual(t, "NoSource", req.ContractName)
	}
	assert.Len(t, explorer.polls, 1)
}

func TestService_Run_ConstructorArguments(t *testing.T) {
	bytecode := "60" + strings.Repeat("0", 10)
	word := strings.Repeat("00", 32)
	ctorABI := json.RawMessage(`[{"type":"constructor","inputs":[{"name":"owner","type":"address"}]}]`)

	good := testArtifact("Good", 1)
	good.Bytecode = "0x" + bytecode
	good.ABI = ctorABI

	odd := testArtifact("Odd", 2)
	odd.Bytecode = "0x" + bytecode
	odd.ABI = ctorABI

	missing := testArtifact("Missing", 3)
	missing.ABI = ctorABI

	plain := testArtifact("Plain", 4)

	txs := &mockTxs{inputs: map[string]string{
		txHash(1): "0x" + bytecode + word,
		txHash(2): "0x" + bytecode + strings.Repeat("0", 63),
		txHash(4): "0x6080604052",
	}}

	explorer := newMockExplorer()
	svc := NewService(explorer, txs, newMockFlattener(), nil)

	entries := []artifacts.Entry{entry(good), entry(odd), entry(missing), entry(plain)}
	report, err := svc.Run(context.Background(), entries, testConfig())
	require.NoError(t, err)

	assert.Equal(t, ConstructorArgs{entry(good).Key: word}, report.ConstructorArgs)

	byName := make(map[string]etherscan.VerifyRequest)
	for _, req := range explorer.submissions() {
		byName[req.ContractName] = req
	}
	require.Len(t, byName, 4)
	assert.Equal(t, word, byName["Good"].ConstructorArguments)
	assert.Empty(t, byName["Odd"].ConstructorArguments)
	assert.Empty(t, byName["Missing"].ConstructorArguments)
	assert.Empty(t, byName["Plain"].ConstructorArguments)
}

func TestService_constructorArguments_MetadataFallback(t *testing.T) {
	word := strings.Repeat("ab", 32)
	metadata := "a165627a7a72305820" + strings.Repeat("cd", 32) + "0029"

	rec := ArtifactRecord{
		ContractName:           "Drifted",
		Bytecode:               "0x6081" + metadata,
		HasNonEmptyConstructor: true,
		Deployment:             DeploymentInfo{Address: address(1), TransactionHash: txHash(1)},
	}
	txs := &mockTxs{inputs: map[string]string{txHash(1): "0x6080" + metadata + word}}

	svc := NewService(newMockExplorer(), txs, nil, nil)
	args := svc.constructorArguments(context.Background(), CandidateSet{"k": rec}, RunConfig{})
	assert.Equal(t, ConstructorArgs{"k": word}, args)
}

func TestService_pollJobs_Transitions(t *testing.T) {
	explorer := newMockExplorer()
	explorer.statuses["g1"] = []*etherscan.VerifyStatus{
		{Status: "0", Result: "Pending verification"},
		{Status: "0", Result: "Pending verification"},
		{Status: "1", Result: "Verified"},
	}

	job := &SubmissionJob{GUID: "g1", ArtifactKey: "k1", State: JobSubmitted}
	registry := map[string]*SubmissionJob{"g1": job}

	var states []JobState
	explorer.onPoll = func(guid string) {
		states = append(states, job.State)
	}

	svc := NewService(explorer, nil, nil, nil)
	report := svc.pollJobs(context.Background(), registry, RunConfig{NetworkID: testNetwork})

	assert.Equal(t, []JobState{JobSubmitted, JobPending, JobPending}, states)
	assert.Equal(t, JobVerified, job.State)
	assert.Equal(t, 3, job.Polls)
	assert.Equal(t, 3, explorer.polls["g1"])
	assert.Empty(t, registry)
	assert.Equal(t, []string{"k1"}, report.Succeeded)
	assert.Empty(t, report.Failed)
}

func TestService_pollJobs_VerifiedElsewhere(t *testing.T) {
	explorer := newMockExplorer()
	explorer.statuses["g1"] = []*etherscan.VerifyStatus{
		{Status: "0", Result: "Pending in queue"},
		{Status: "0", Result: "Already Verified"},
	}
	explorer.statuses["g2"] = []*etherscan.VerifyStatus{{Status: "1", Result: "Pass - Verified"}}

	first := &SubmissionJob{GUID: "g1", ArtifactKey: "k1", State: JobSubmitted}
	registry := map[string]*SubmissionJob{
		"g1": first,
		"g2": {GUID: "g2", ArtifactKey: "k2", State: JobSubmitted},
	}

	svc := NewService(explorer, nil, nil, nil)
	report := svc.pollJobs(context.Background(), registry, RunConfig{NetworkID: testNetwork})

	assert.Empty(t, registry)
	assert.Equal(t, JobVerified, first.State)
	assert.Equal(t, 2, explorer.polls["g1"])
	assert.Equal(t, []string{"k1"}, report.AlreadyVerified)
	assert.Equal(t, []string{"k2"}, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.Equal(t, "Already Verified", report.Messages["k1"])
}

func TestService_pollJobs_ErrorsAndLimits(t *testing.T) {
	explorer := newMockExplorer()
	explorer.statusErr["broken"] = errors.New("HTTP 500")
	explorer.statuses["stuck"] = []*etherscan.VerifyStatus{{Status: "0", Result: "Pending in queue"}}
	explorer.statuses["fast"] = []*etherscan.VerifyStatus{{Status: "1", Result: "Pass - Verified"}}

	registry := map[string]*SubmissionJob{
		"broken": {GUID: "broken", ArtifactKey: "kb", State: JobSubmitted},
		"stuck":  {GUID: "stuck", ArtifactKey: "ks", State: JobSubmitted},
		"fast":   {GUID: "fast", ArtifactKey: "kf", State: JobSubmitted},
	}

	svc := NewService(explorer, nil, nil, nil)
	report := svc.pollJobs(context.Background(), registry, RunConfig{MaxPollRounds: 3})

	assert.Empty(t, registry)
	assert.Equal(t, []string{"kf"}, report.Succeeded)
	assert.ElementsMatch(t, []string{"kb", "ks"}, report.Failed)
	assert.Contains(t, report.Messages["kb"], "HTTP 500")
	assert.Contains(t, report.Messages["ks"], "still pending after 3 polls")
	assert.Equal(t, 1, explorer.polls["broken"])
	assert.Equal(t, 3, explorer.polls["stuck"])
	assert.Equal(t, 1, explorer.polls["fast"])
}

func TestService_pollJobs_ContextCancelled(t *testing.T) {
	explorer := newMockExplorer()
	explorer.statuses["g1"] = []*etherscan.VerifyStatus{{Status: "0", Result: "Pending in queue"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry := map[string]*SubmissionJob{"g1": {GUID: "g1", ArtifactKey: "k1", State: JobSubmitted}}

	svc := NewService(explorer, nil, nil, nil)
	report := svc.pollJobs(ctx, registry, RunConfig{PollInterval: time.Hour})

	assert.Empty(t, registry)
	assert.Equal(t, []string{"k1"}, report.Failed)
	assert.Contains(t, report.Messages["k1"], "aborted")
	assert.Equal(t, 0, explorer.polls["g1"])
}

func TestService_pollJobs_Empty(t *testing.T) {
	svc := NewService(newMockExplorer(), nil, nil, nil)
	report := svc.pollJobs(context.Background(), map[string]*SubmissionJob{}, RunConfig{PollInterval: time.Hour})
	assert.Equal(t, 0, report.Total())
}

func TestService_Run_WritesFlattenedSources(t *testing.T) {
	dir := t.TempDir()

	explorer := newMockExplorer()
	explorer.verified[address(1)] = true

	flattener := newMockFlattener()
	a := testArtifact("A", 1)
	b := testArtifact("B", 2)
	shared := testArtifact("Shared", 3)
	shared.SourcePath = b.SourcePath

	cfg := testConfig()
	cfg.OutputDir = dir

	svc := NewService(explorer, &mockTxs{}, flattener, nil)
	report, err := svc.Run(context.Background(), []artifacts.Entry{entry(a), entry(b), entry(shared)}, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "A.flat.sol"),
		filepath.Join(dir, "B.flat.sol"),
	}, report.FlattenedFiles)
	assert.Equal(t, 1, flattener.calls[b.SourcePath])

	data, err := os.ReadFile(filepath.Join(dir, "A.flat.sol"))
	require.NoError(t, err)
	assert.Equal(t, "// flattened A.sol", string(data))
}

func TestLoggingMiddleware(t *testing.T) {
	explorer := newMockExplorer()
	explorer.verified[address(1)] = true

	wrapped := LoggingMiddleware(nopLogger())(explorer)

	ok, err := wrapped.IsVerified(context.Background(), address(1))
	require.NoError(t, err)
	assert.True(t, ok)

	guid, err := wrapped.SubmitVerification(context.Background(), etherscan.VerifyRequest{ContractName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "guid-A", guid)

	status, err := wrapped.CheckStatus(context.Background(), guid)
	require.NoError(t, err)
	assert.True(t, status.Verified())
}
