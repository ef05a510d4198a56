package domain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/artifacts"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/validation"
)

// MatchArtifacts selects the artifacts deployed on networkID and normalizes
// them into records. Artifacts without a deployment on the network are
// dropped silently; artifacts that cannot be verified are returned in the
// second map with the reason. Only a missing network or malformed entry list
// is an error.
func MatchArtifacts(entries []artifacts.Entry, networkID string, logger *slog.Logger) (CandidateSet, map[string]string, error) {
	if networkID == "" {
		return nil, nil, ErrMissingNetwork
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	candidates := make(CandidateSet)
	skipped := make(map[string]string)
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if e.Key == "" {
			return nil, nil, errors.New("artifact entry has an empty key")
		}
		if seen[e.Key] {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateArtifact, e.Key)
		}
		seen[e.Key] = true

		if e.Artifact == nil {
			skipped[e.Key] = "artifact is empty"
			logger.Warn("skipping artifact", "artifact", e.Key, "reason", skipped[e.Key])
			continue
		}

		dep, ok := e.Artifact.Networks[networkID]
		if !ok {
			continue
		}

		record, err := newRecord(e.Artifact, dep)
		if err != nil {
			skipped[e.Key] = err.Error()
			logger.Warn("skipping artifact",
				"artifact", e.Key,
				"contract", e.Artifact.ContractName,
				"reason", err,
			)
			continue
		}
		candidates[e.Key] = record
	}

	return candidates, skipped, nil
}

func newRecord(a *artifacts.Artifact, dep artifacts.Deployment) (ArtifactRecord, error) {
	tag, err := validation.CompilerVersionTag(a.Compiler.Version)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("cannot find compiler version in %q", a.Compiler.Version)
	}

	if len(dep.Links) > MaxLibraries {
		return ArtifactRecord{}, fmt.Errorf("links %d libraries, at most %d are supported", len(dep.Links), MaxLibraries)
	}

	if !common.IsHexAddress(dep.Address) {
		return ArtifactRecord{}, fmt.Errorf("invalid deployment address %q", dep.Address)
	}

	// The transaction is only fetched for constructor arguments.
	hasConstructor := evm.HasNonEmptyConstructor(a.ABI)
	if hasConstructor {
		if err := validation.ValidateTxHash(dep.TransactionHash); err != nil {
			return ArtifactRecord{}, fmt.Errorf("deployment transaction %q: %w", dep.TransactionHash, err)
		}
	}

	bytecode := evm.LinkBytecode(a.Bytecode, dep.Links)
	if evm.HasLibraryPlaceholders(bytecode) {
		return ArtifactRecord{}, errors.New("bytecode references libraries that are not linked on this network")
	}

	var libraries []Library
	for _, name := range dep.LibraryNames() {
		libraries = append(libraries, Library{Name: name, Address: dep.Links[name]})
	}

	return ArtifactRecord{
		ContractName:           a.ContractName,
		CompilerVersion:        tag,
		Bytecode:               bytecode,
		SourcePath:             a.SourcePath,
		HasNonEmptyConstructor: hasConstructor,
		Libraries:              libraries,
		Deployment: DeploymentInfo{
			Address:         dep.Address,
			TransactionHash: dep.TransactionHash,
		},
	}, nil
}
