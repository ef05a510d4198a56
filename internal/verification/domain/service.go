package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/contraverify/internal/artifacts"
	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/etherscan"
	"github.com/pendergraft/contraverify/internal/flatten"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
)

// Service runs the verification pipeline.
type Service struct {
	explorer  Explorer
	txs       chains.TransactionFetcher
	flattener Flattener
	logger    *slog.Logger
}

// NewService creates a new verification service. txs supplies deployment
// transactions for constructor argument recovery.
func NewService(explorer Explorer, txs chains.TransactionFetcher, flattener Flattener, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		explorer:  explorer,
		txs:       txs,
		flattener: flattener,
		logger:    logger,
	}
}

// Run verifies every artifact deployed on cfg.NetworkID. Per-contract
// failures end up in the report; an error is returned only when the run
// cannot proceed at all.
func (s *Service) Run(ctx context.Context, entries []artifacts.Entry, cfg RunConfig) (*Report, error) {
	start := time.Now()
	defer func() { metrics.Run(time.Since(start)) }()

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	candidates, skipped, err := MatchArtifacts(entries, cfg.NetworkID, s.logger)
	if err != nil {
		return nil, err
	}

	report := NewReport()
	report.Skipped = skipped
	for key, rec := range candidates {
		report.Contracts[key] = ContractRef{ContractName: rec.ContractName, Address: rec.Deployment.Address}
	}
	s.logger.Info("matched artifacts",
		"network", cfg.NetworkID,
		"artifacts", len(entries),
		"candidates", len(candidates),
		"skipped", len(skipped),
	)

	unverified, already := s.filterVerified(ctx, candidates, cfg)
	for _, key := range already {
		report.alreadyVerified(key, "already verified")
	}

	toFlatten := unverified
	if cfg.OutputDir != "" {
		toFlatten = candidates
	}
	sources, flattenErrs := s.flattenSources(ctx, toFlatten)
	if cfg.OutputDir != "" && len(sources) > 0 {
		written, err := flatten.WriteFiles(cfg.OutputDir, sources)
		if err != nil {
			s.logger.Error("writing flattened sources", "dir", cfg.OutputDir, "error", err)
		}
		report.FlattenedFiles = written
	}

	args := s.constructorArguments(ctx, unverified, cfg)
	if len(args) > 0 {
		report.ConstructorArgs = args
	}

	registry, submitted, err := s.submitAll(ctx, unverified, sources, flattenErrs, args, cfg)
	if err != nil {
		return nil, err
	}
	report.merge(submitted)
	for _, job := range registry {
		ref := report.Contracts[job.ArtifactKey]
		ref.GUID = job.GUID
		report.Contracts[job.ArtifactKey] = ref
	}

	report.merge(s.pollJobs(ctx, registry, cfg))
	report.sort()

	metrics.Outcome(cfg.NetworkID, metrics.OutcomeAlreadyVerified, len(report.AlreadyVerified))
	metrics.Outcome(cfg.NetworkID, metrics.OutcomeSucceeded, len(report.Succeeded))
	metrics.Outcome(cfg.NetworkID, metrics.OutcomeFailed, len(report.Failed))
	metrics.Outcome(cfg.NetworkID, metrics.OutcomeSkipped, len(report.Skipped))

	return report, nil
}

// filterVerified splits candidates into those still needing verification and
// the keys the explorer already has source for. Lookup errors count as not
// verified.
func (s *Service) filterVerified(ctx context.Context, candidates CandidateSet, cfg RunConfig) (CandidateSet, []string) {
	keys := candidates.Keys()
	verified := make([]bool, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		address := candidates[key].Deployment.Address
		g.Go(func() error {
			ok, err := s.explorer.IsVerified(ctx, address)
			if err != nil {
				metrics.StatusCheck(cfg.NetworkID, "error")
				if cfg.Verbose {
					s.logger.Warn("could not check verification status",
						"contract", candidates[key].ContractName,
						"address", address,
						"error", err,
					)
				}
				return nil
			}
			if ok {
				metrics.StatusCheck(cfg.NetworkID, "verified")
			} else {
				metrics.StatusCheck(cfg.NetworkID, "unverified")
			}
			verified[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	unverified := make(CandidateSet)
	var already []string
	for i, key := range keys {
		if verified[i] {
			already = append(already, key)
			s.logger.Info("already verified", "contract", candidates[key].ContractName, "address", candidates[key].Deployment.Address)
			continue
		}
		unverified[key] = candidates[key]
	}
	return unverified, already
}

// flattenSources flattens every distinct source path once. Results and
// errors are keyed by source path.
func (s *Service) flattenSources(ctx context.Context, set CandidateSet) (map[string]string, map[string]error) {
	seen := make(map[string]bool)
	var paths []string
	for _, rec := range set {
		if !seen[rec.SourcePath] {
			seen[rec.SourcePath] = true
			paths = append(paths, rec.SourcePath)
		}
	}
	sort.Strings(paths)

	type result struct {
		source string
		err    error
	}
	results := make([]result, len(paths))

	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			if s.flattener == nil {
				results[i].err = errors.New("no flattener configured")
				return nil
			}
			src, err := s.flattener.Flatten(ctx, path)
			results[i] = result{source: src, err: err}
			return nil
		})
	}
	_ = g.Wait()

	sources := make(map[string]string, len(paths))
	errs := make(map[string]error)
	for i, path := range paths {
		if results[i].err != nil {
			errs[path] = results[i].err
			s.logger.Warn("flattening failed", "source", path, "error", results[i].err)
			continue
		}
		sources[path] = results[i].source
	}
	return sources, errs
}

// constructorArguments recovers constructor arguments for the candidates
// whose ABI takes any. Entries that cannot be recovered or fail validation
// are left out; their verification is expected to fail.
func (s *Service) constructorArguments(ctx context.Context, set CandidateSet, cfg RunConfig) ConstructorArgs {
	var keys []string
	for _, key := range set.Keys() {
		if set[key].HasNonEmptyConstructor {
			keys = append(keys, key)
		}
	}

	recovered := make([]string, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		rec := set[key]
		g.Go(func() error {
			args, err := s.recoverArgs(ctx, rec)
			if err != nil {
				s.logger.Warn("cannot determine constructor arguments, verification will fail",
					"contract", rec.ContractName,
					"address", rec.Deployment.Address,
					"error", err,
				)
				return nil
			}
			recovered[i] = args
			return nil
		})
	}
	_ = g.Wait()

	out := make(ConstructorArgs)
	for i, key := range keys {
		if recovered[i] == "" {
			continue
		}
		out[key] = recovered[i]
		if cfg.Verbose {
			s.logger.Info("constructor arguments", "contract", set[key].ContractName, "args", recovered[i])
		}
	}
	return out
}

func (s *Service) recoverArgs(ctx context.Context, rec ArtifactRecord) (string, error) {
	if s.txs == nil {
		return "", errors.New("no transaction source configured")
	}
	if rec.Deployment.TransactionHash == "" {
		return "", errors.New("deployment has no transaction hash")
	}

	input, err := s.txs.TransactionInput(ctx, rec.Deployment.TransactionHash)
	if err != nil {
		return "", fmt.Errorf("fetching deployment transaction: %w", err)
	}

	res := evm.ExtractConstructorArgs(input, rec.Bytecode)
	if res.MatchType == chains.MatchNone {
		return "", errors.New("deployment input does not match the artifact bytecode")
	}
	if !evm.ValidConstructorArgs(res.Args) {
		return "", fmt.Errorf("recovered %d hex characters, not a whole number of ABI words", len(res.Args))
	}

	s.logger.Debug("recovered constructor arguments", "contract", rec.ContractName, "match", res.MatchType)
	return res.Args, nil
}

// submitAll posts every unverified candidate. Accepted submissions are
// returned as the job registry keyed by GUID. A rejected API key aborts the
// whole run.
func (s *Service) submitAll(
	ctx context.Context,
	set CandidateSet,
	sources map[string]string,
	flattenErrs map[string]error,
	args ConstructorArgs,
	cfg RunConfig,
) (map[string]*SubmissionJob, *Report, error) {
	keys := set.Keys()

	type result struct {
		guid    string
		already bool
		err     error
	}
	results := make([]result, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		rec := set[key]
		src, ok := sources[rec.SourcePath]
		if !ok {
			results[i].err = fmt.Errorf("flattening %s: %v", rec.SourcePath, flattenErrs[rec.SourcePath])
			continue
		}

		req := verifyRequest(rec, src, args[key], cfg.Optimizer)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].err = err
				return nil
			}

			guid, err := s.explorer.SubmitVerification(gctx, req)
			switch {
			case errors.Is(err, etherscan.ErrInvalidAPIKey):
				metrics.Submission(cfg.NetworkID, "invalid_key")
				return fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
			case errors.Is(err, etherscan.ErrAlreadyVerified):
				metrics.Submission(cfg.NetworkID, "already_verified")
				results[i].already = true
			case err != nil:
				metrics.Submission(cfg.NetworkID, "rejected")
				results[i].err = err
			case guid == "":
				metrics.Submission(cfg.NetworkID, "rejected")
				results[i].err = errors.New("explorer accepted the submission without a GUID")
			default:
				metrics.Submission(cfg.NetworkID, "queued")
				results[i].guid = guid
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	report := NewReport()
	registry := make(map[string]*SubmissionJob)
	for i, key := range keys {
		name := set[key].ContractName
		r := results[i]
		switch {
		case r.already:
			report.alreadyVerified(key, "already verified")
			s.logger.Info("already verified", "contract", name)
		case r.err != nil:
			report.fail(key, r.err.Error())
			s.logger.Error("submission failed", "contract", name, "error", r.err)
		case registry[r.guid] != nil:
			report.fail(key, fmt.Sprintf("explorer returned duplicate GUID %s", r.guid))
			s.logger.Error("duplicate GUID", "contract", name, "guid", r.guid)
		default:
			registry[r.guid] = &SubmissionJob{GUID: r.guid, ArtifactKey: key, State: JobSubmitted}
			s.logger.Info("submitted for verification", "contract", name, "guid", r.guid)
		}
	}
	return registry, report, nil
}

func verifyRequest(rec ArtifactRecord, source, args string, opt Optimizer) etherscan.VerifyRequest {
	libs := make([]etherscan.Library, 0, len(rec.Libraries))
	for _, l := range rec.Libraries {
		libs = append(libs, etherscan.Library{Name: l.Name, Address: l.Address})
	}
	return etherscan.VerifyRequest{
		Address:              rec.Deployment.Address,
		ContractName:         rec.ContractName,
		CompilerVersion:      rec.CompilerVersion,
		OptimizationUsed:     opt.Enabled,
		Runs:                 opt.Runs,
		SourceCode:           source,
		ConstructorArguments: args,
		Libraries:            libs,
	}
}

// pollJobs polls every active job each round until the registry is empty.
// Results of a round are applied only after all its polls have returned.
func (s *Service) pollJobs(ctx context.Context, registry map[string]*SubmissionJob, cfg RunConfig) *Report {
	report := NewReport()

	type result struct {
		status *etherscan.VerifyStatus
		err    error
	}

	for round := 1; len(registry) > 0; round++ {
		if err := sleepContext(ctx, cfg.PollInterval); err != nil {
			s.failAll(registry, report, fmt.Sprintf("verification aborted: %v", err))
			break
		}

		guids := make([]string, 0, len(registry))
		for guid := range registry {
			guids = append(guids, guid)
		}
		sort.Strings(guids)

		results := make([]result, len(guids))
		var g errgroup.Group
		for i, guid := range guids {
			g.Go(func() error {
				st, err := s.explorer.CheckStatus(ctx, guid)
				if err == nil && st == nil {
					err = errors.New("empty status response")
				}
				results[i] = result{status: st, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, guid := range guids {
			job := registry[guid]
			job.Polls++
			r := results[i]

			switch {
			case r.err != nil:
				metrics.Poll(cfg.NetworkID, "error")
				job.State = JobFailed
				report.fail(job.ArtifactKey, fmt.Sprintf("checking verification status: %v", r.err))
			case r.status.Pending():
				metrics.Poll(cfg.NetworkID, "pending")
				job.State = JobPending
				s.logger.Debug("verification pending", "guid", guid, "polls", job.Polls)
			case r.status.AlreadyVerified():
				metrics.Poll(cfg.NetworkID, "already_verified")
				job.State = JobVerified
				report.alreadyVerified(job.ArtifactKey, r.status.Result)
			case r.status.Verified():
				metrics.Poll(cfg.NetworkID, "verified")
				job.State = JobVerified
				report.succeed(job.ArtifactKey, r.status.Result)
			default:
				metrics.Poll(cfg.NetworkID, "failed")
				job.State = JobFailed
				report.fail(job.ArtifactKey, r.status.Result)
			}
			if !job.State.Terminal() {
				continue
			}

			s.logger.Info("verification finished",
				"artifact", job.ArtifactKey,
				"guid", guid,
				"state", job.State,
				"polls", job.Polls,
			)
			delete(registry, guid)
		}

		if cfg.MaxPollRounds > 0 && round >= cfg.MaxPollRounds && len(registry) > 0 {
			s.failAll(registry, report, fmt.Sprintf("verification still pending after %d polls", round))
		}
	}

	return report
}

func (s *Service) failAll(registry map[string]*SubmissionJob, report *Report, msg string) {
	for guid, job := range registry {
		job.State = JobFailed
		report.fail(job.ArtifactKey, msg)
		s.logger.Warn("verification abandoned", "artifact", job.ArtifactKey, "guid", guid, "reason", msg)
		delete(registry, guid)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
