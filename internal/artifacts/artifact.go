// Package artifacts reads Truffle-format build artifacts from disk.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Artifact is the subset of a Truffle build artifact needed for verification.
type Artifact struct {
	ContractName string                `json:"contractName"`
	ABI          json.RawMessage       `json:"abi"`
	Bytecode     string                `json:"bytecode"`
	SourcePath   string                `json:"sourcePath"`
	Compiler     Compiler              `json:"compiler"`
	Networks     map[string]Deployment `json:"networks"`
}

// Compiler holds the compiler identification recorded by the build tool.
type Compiler struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Deployment is the per-network deployment record.
type Deployment struct {
	Address         string            `json:"address"`
	TransactionHash string            `json:"transactionHash"`
	Links           map[string]string `json:"links"`
}

// Entry pairs a parsed artifact with its identity key (the file path).
type Entry struct {
	Key      string
	Artifact *Artifact
}

// LibraryNames returns the linked library names in a stable order.
func (d Deployment) LibraryNames() []string {
	names := make([]string, 0, len(d.Links))
	for name := range d.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes a single artifact file.
func Parse(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON %s: %w", path, err)
	}
	return &a, nil
}

// Load parses every artifact at the given paths. Paths are resolved against
// dir and used as entry keys, so the same file always maps to the same key.
func Load(dir string, paths []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(dir, p)
		}

		a, err := Parse(abs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: abs, Artifact: a})
	}
	return entries, nil
}

// Expand resolves glob patterns (e.g. build/contracts/*.json) into a sorted,
// de-duplicated list of files. Patterns without wildcards are kept as-is.
func Expand(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, pattern)
		}

		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			matches = []string{full}
		}

		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}
