package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/networks"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/transport"
	"github.com/pendergraft/contraverify/pkg/client"
)

var errLedgerDisabled = errors.New("run ledger is disabled (LEDGER_ENABLED=false)")

// History server to read from instead of the local ledger
var (
	historyServer    string
	historyServerKey string
)

func createHistoryCmd() *cobra.Command {
	var network string
	var limit int
	var cursor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verification runs",
		Long: `List verification runs recorded in the local ledger, newest first.

EXAMPLES:
  # Recent runs
  contraverify history

  # Runs against goerli
  contraverify history --network goerli

  # One run with its per-contract results
  contraverify history show 6f1c0e3a-2b7d-4c1e-9d0a-5a8e2f4b7c10

  # Every recorded outcome for a contract
  contraverify history contract 0x1234567890abcdef1234567890abcdef12345678

  # Read from a shared history server
  contraverify history --server https://verify.example.com --server-key $KEY
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(cmd.Context(), func(ctx context.Context, runs transport.Service) error {
				return listRuns(ctx, runs, network, limit, cursor, jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "only runs against this network")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this run ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.PersistentFlags().StringVar(&historyServer, "server", "", "history server URL (default: local ledger, or HISTORY_SERVER_URL)")
	cmd.PersistentFlags().StringVar(&historyServerKey, "server-key", "", "history server API key (default from HISTORY_SERVER_KEY)")

	cmd.AddCommand(createHistoryShowCmd())
	cmd.AddCommand(createHistoryContractCmd())

	return cmd
}

func createHistoryShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(cmd.Context(), func(ctx context.Context, runs transport.Service) error {
				return showRun(ctx, runs, args[0], jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createHistoryContractCmd() *cobra.Command {
	var network string
	var limit int

	cmd := &cobra.Command{
		Use:   "contract <address>",
		Short: "Show recorded outcomes for a contract address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateAddress(args[0]); err != nil {
				return err
			}
			return withRuns(cmd.Context(), func(ctx context.Context, runs transport.Service) error {
				return contractHistory(ctx, runs, network, args[0], limit)
			})
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "only results on this network")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of results to show")

	return cmd
}

func listRuns(ctx context.Context, runs transport.Service, network string, limit int, cursor string, jsonOutput bool) error {
	page, err := runs.ListRuns(ctx, storage.RunFilter{Network: network}, storage.PaginationParams{
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if jsonOutput {
		data := make([]transport.RunSummary, len(page.Data))
		for i, run := range page.Data {
			data[i] = transport.NewRunSummary(run)
		}
		return printJSON(transport.RunListResponse{
			Data: data,
			Pagination: transport.Pagination{
				Limit:      limit,
				HasMore:    page.HasMore,
				NextCursor: page.NextCursor,
			},
		})
	}

	if len(page.Data) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tSTARTED\tDURATION\tALREADY\tVERIFIED\tFAILED\tSKIPPED")
	for _, run := range page.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			run.ID, run.Network, run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			run.AlreadyVerified, run.Succeeded, run.Failed, run.Skipped)
	}
	w.Flush()

	if page.HasMore {
		fmt.Printf("\n(more runs available: --cursor %s)\n", page.NextCursor)
	}
	return nil
}

func showRun(ctx context.Context, runs transport.Service, id string, jsonOutput bool) error {
	run, err := runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("run not found: %s", id)
		}
		return fmt.Errorf("getting run: %w", err)
	}

	if jsonOutput {
		return printJSON(transport.NewRunResponse(*run))
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Network:  %s (chain %d)\n", run.Network, run.ChainID)
	fmt.Printf("API:      %s\n", run.APIURL)
	fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tADDRESS\tOUTCOME\tMESSAGE")
	for _, r := range run.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ContractName, r.Address, r.Outcome, r.Message)
	}
	return w.Flush()
}

func contractHistory(ctx context.Context, runs transport.Service, network, address string, limit int) error {
	results, err := runs.ListResultsByAddress(ctx, network, address, limit)
	if err != nil {
		return fmt.Errorf("listing results: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No recorded results for %s\n", address)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tRECORDED\tCONTRACT\tOUTCOME\tGUID")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.RecordedAt.Local().Format(time.DateTime), r.ContractName, r.Outcome, r.GUID)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openLedger opens and migrates the configured run ledger.
func openLedger(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if !cfg.Enabled {
		return nil, errLedgerDisabled
	}

	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

// withRuns hands fn the remote history server when one is configured, the
// local ledger otherwise.
func withRuns(ctx context.Context, fn func(context.Context, transport.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := historyServer
	if serverURL == "" {
		serverURL = os.Getenv("HISTORY_SERVER_URL")
	}
	if serverURL != "" {
		key := historyServerKey
		if key == "" {
			key = os.Getenv("HISTORY_SERVER_KEY")
		}
		return fn(ctx, &remoteRuns{client: client.New(serverURL, key)})
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openLedger(ctx, cfg.Storage, setupLogger(cfg, false))
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

// recordRun stores a finished run. It uses its own deadline because the
// run's context may already be cancelled.
func recordRun(cfg config.StorageConfig, logger *slog.Logger, run *storage.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.RecordRun(ctx, run)
}

// buildRun converts a report into a ledger row. report may be nil when the
// run failed before producing one.
func buildRun(report *domain.Report, network networks.Network, apiURL string, started, finished time.Time, runErr error) *storage.Run {
	run := &storage.Run{
		Network:    network.Name,
		ChainID:    network.ChainID,
		APIURL:     apiURL,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if report == nil {
		return run
	}

	run.AlreadyVerified = len(report.AlreadyVerified)
	run.Succeeded = len(report.Succeeded)
	run.Failed = len(report.Failed)
	run.Skipped = len(report.Skipped)

	add := func(key, msg string) {
		ref := report.Contracts[key]
		run.Results = append(run.Results, storage.Result{
			ArtifactKey:  key,
			ContractName: ref.ContractName,
			Address:      ref.Address,
			Outcome:      report.Outcome(key),
			GUID:         ref.GUID,
			Message:      msg,
		})
	}
	for _, keys := range [][]string{report.AlreadyVerified, report.Succeeded, report.Failed} {
		for _, key := range keys {
			add(key, report.Messages[key])
		}
	}
	for _, key := range sortedKeys(report.Skipped) {
		add(key, report.Skipped[key])
	}
	return run
}
