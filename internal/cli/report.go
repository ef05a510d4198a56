package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pendergraft/contraverify/internal/flatten"
	"github.com/pendergraft/contraverify/internal/networks"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

func printEffectiveConfig(w io.Writer, network networks.Network, apiURL string, cfg domain.RunConfig, opts verifyOptions, flattener flatten.Command, artifactCount int) {
	fetcher := "explorer proxy"
	if opts.rpc != "" && !opts.useProxy {
		fetcher = "rpc " + opts.rpc
	}

	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "   Network:    %s (chain %d)\n", network.Name, network.ChainID)
	fmt.Fprintf(w, "   API URL:    %s\n", apiURL)
	fmt.Fprintf(w, "   API Key:    %s\n", maskAPIKey(cfg.APIKey))
	fmt.Fprintf(w, "   Artifacts:  %d\n", artifactCount)
	fmt.Fprintf(w, "   Optimizer:  enabled=%t runs=%d\n", cfg.Optimizer.Enabled, cfg.Optimizer.Runs)
	fmt.Fprintf(w, "   Delay:      %s\n", cfg.PollInterval)
	fmt.Fprintf(w, "   Fetch txs:  %s\n", fetcher)
	fmt.Fprintf(w, "   Flattener:  %s\n", flattener)
	if cfg.MaxPollRounds > 0 {
		fmt.Fprintf(w, "   Max polls:  %d\n", cfg.MaxPollRounds)
	}
	if cfg.OutputDir != "" {
		fmt.Fprintf(w, "   Output:     %s\n", cfg.OutputDir)
	}
	fmt.Fprintln(w)
}

// printReport renders the outcome of a run, grouped by result.
func printReport(w io.Writer, report *domain.Report, network networks.Network, statusURL func(guid string) string, verbose bool) {
	label := func(key string) string {
		ref, ok := report.Contracts[key]
		if !ok {
			return key
		}
		return fmt.Sprintf("%s (%s)", ref.ContractName, ref.Address)
	}

	if report.Total() == 0 && len(report.Skipped) == 0 {
		fmt.Fprintf(w, "No artifacts deployed on %s\n", network.Name)
		return
	}

	if verbose && len(report.ConstructorArgs) > 0 {
		fmt.Fprintln(w, "Constructor arguments:")
		for _, key := range sortedKeys(report.ConstructorArgs) {
			fmt.Fprintf(w, "   %s: %s\n", label(key), report.ConstructorArgs[key])
		}
		fmt.Fprintln(w)
	}

	if len(report.AlreadyVerified) > 0 {
		fmt.Fprintf(w, "✅ Already verified (%d)\n", len(report.AlreadyVerified))
		for _, key := range report.AlreadyVerified {
			fmt.Fprintf(w, "   • %s\n", label(key))
			if ref, ok := report.Contracts[key]; ok {
				fmt.Fprintf(w, "     %s\n", network.ContractCodeURL(ref.Address))
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Succeeded) > 0 {
		fmt.Fprintf(w, "✅ Verified (%d)\n", len(report.Succeeded))
		for _, key := range report.Succeeded {
			fmt.Fprintf(w, "   • %s\n", label(key))
			ref, ok := report.Contracts[key]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "     %s\n", network.ContractCodeURL(ref.Address))
			if verbose && ref.GUID != "" && statusURL != nil {
				fmt.Fprintf(w, "     Status: %s\n", statusURL(ref.GUID))
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Failed) > 0 {
		fmt.Fprintf(w, "❌ Failed (%d)\n", len(report.Failed))
		for _, key := range report.Failed {
			fmt.Fprintf(w, "   • %s\n", label(key))
			if msg := report.Messages[key]; msg != "" {
				fmt.Fprintf(w, "     Reason: %s\n", msg)
			}
			if ref, ok := report.Contracts[key]; ok && ref.GUID != "" && statusURL != nil {
				fmt.Fprintf(w, "     Status: %s\n", statusURL(ref.GUID))
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "⚠️  Skipped (%d)\n", len(report.Skipped))
		for _, key := range sortedKeys(report.Skipped) {
			fmt.Fprintf(w, "   • %s: %s\n", key, report.Skipped[key])
		}
		fmt.Fprintln(w)
	}

	if len(report.FlattenedFiles) > 0 {
		fmt.Fprintf(w, "Flattened sources written: %s\n\n", strings.Join(report.FlattenedFiles, ", "))
	}

	fmt.Fprintf(w, "%d already verified, %d verified, %d failed, %d skipped\n",
		len(report.AlreadyVerified), len(report.Succeeded), len(report.Failed), len(report.Skipped))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
