// Package flatten runs an external Solidity flattener and writes the
// flattened sources to disk.
package flatten

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultCommand is the flattener used when none is configured.
const DefaultCommand = "truffle-flattener"

// Command flattens a source file by running an external program with the
// source path appended to its arguments and reading stdout.
type Command struct {
	Name string
	Args []string
	Dir  string
}

// ParseCommand splits a command line such as "forge flatten" into a Command.
// An empty line yields the default flattener.
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Name: DefaultCommand}
	}
	return Command{Name: fields[0], Args: fields[1:]}
}

// String returns the command line without the source path.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Flatten returns the flattened source of sourcePath.
func (c Command) Flatten(ctx context.Context, sourcePath string) (string, error) {
	if c.Name == "" {
		c.Name = DefaultCommand
	}

	args := append(append([]string{}, c.Args...), sourcePath)
	cmd := exec.CommandContext(ctx, c.Name, args...)
	cmd.Dir = c.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return "", fmt.Errorf("%s failed on %s: %s", c.Name, sourcePath, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running %s on %s: %w", c.Name, sourcePath, err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", fmt.Errorf("%s produced no output for %s", c.Name, sourcePath)
	}

	return string(out), nil
}

// OutputName is the file name a flattened copy of sourcePath is written to.
func OutputName(sourcePath string) string {
	return strings.TrimSuffix(filepath.Base(sourcePath), ".sol") + ".flat.sol"
}

// WriteFiles writes each flattened source to dir, keyed by its original
// source path, and returns the written paths in order.
func WriteFiles(dir string, sources map[string]string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	paths := make([]string, 0, len(sources))
	for sourcePath := range sources {
		paths = append(paths, sourcePath)
	}
	sort.Strings(paths)

	written := make([]string, 0, len(paths))
	for _, sourcePath := range paths {
		target := filepath.Join(dir, OutputName(sourcePath))
		if err := os.WriteFile(target, []byte(sources[sourcePath]), 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}
