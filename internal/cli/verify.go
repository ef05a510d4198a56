package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pendergraft/contraverify/internal/artifacts"
	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/etherscan"
	"github.com/pendergraft/contraverify/internal/flatten"
	"github.com/pendergraft/contraverify/internal/networks"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// errContractsFailed is returned when the run finished but some contracts
// did not verify, so scripts see a non-zero exit.
var errContractsFailed = errors.New("some contracts failed verification")

type verifyOptions struct {
	network      string
	artifacts    []string
	output       string
	delay        time.Duration
	useProxy     bool
	rpc          string
	apiURL       string
	flattener    string
	optimizer    domain.Optimizer
	timeout      time.Duration
	maxPolls     int
	metricsAddr  string
	noRecord     bool
	jsonOutput   bool
	verbose      bool
	optimize     bool
	optimizeRuns int
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify [artifacts...]",
		Short: "Verify deployed contracts on Etherscan",
		Long: `Verify the source of deployed contracts on an Etherscan explorer.

Every artifact deployed on the selected network is checked against the
explorer. Unverified contracts are flattened, their constructor arguments are
recovered from the deployment transaction, and the source is submitted. The
command then polls until each submission resolves.

Artifact paths may be globs. Without arguments the artifacts listed in
contraverify.toml are used.

The API key is read from --api-key, ETHERSCAN_API_KEY, API_KEY or the
credentials stored with 'contraverify auth login'.

EXAMPLES:
  # Verify everything deployed to goerli
  contraverify verify --network goerli build/contracts/*.json

  # Contracts compiled with the optimizer at 1000 runs
  contraverify verify --network mainnet --optimize-runs 1000 build/contracts/Token.json

  # Resolve the network from a node and read transactions from it
  contraverify verify --rpc http://localhost:8545 build/contracts/*.json

  # Also write flattened sources to ./flat
  contraverify verify --network goerli -o flat build/contracts/*.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveVerifyOptions(cmd.Flags(), opts, args, loadProjectConfigSilent())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runVerify(ctx, resolved, os.Stdout)
		},
	}

	bindVerifyFlags(cmd.Flags(), &opts)

	return cmd
}

func bindVerifyFlags(flags *pflag.FlagSet, opts *verifyOptions) {
	flags.StringVar(&opts.network, "network", "", "network to verify on ("+joinNames()+")")
	flags.StringVarP(&opts.output, "output", "o", "", "directory to write flattened sources to")
	flags.DurationVarP(&opts.delay, "delay", "d", domain.DefaultPollInterval, "wait between verification status checks")
	flags.BoolVar(&opts.useProxy, "use-proxy", false, "fetch deployment transactions through the explorer API")
	flags.StringVar(&opts.rpc, "rpc", "", "JSON-RPC endpoint for transactions and network detection")
	flags.StringVar(&opts.apiURL, "api-url", "", "explorer API URL (default derived from the network)")
	flags.StringVar(&opts.flattener, "flattener", flatten.DefaultCommand, "command that prints a flattened source file")
	flags.BoolVar(&opts.optimize, "optimize", false, "contracts were compiled with the optimizer")
	flags.IntVarP(&opts.optimizeRuns, "optimize-runs", "r", domain.DefaultOptimizer().Runs, "optimizer runs (implies --optimize)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	flags.IntVar(&opts.maxPolls, "max-polls", 0, "give up on submissions still pending after this many checks (0 = no limit)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	flags.BoolVar(&opts.noRecord, "no-record", false, "do not record the run in the ledger")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	flags.BoolVar(&opts.verbose, "verbose", false, "print the effective config and debug logs")
}

// resolveVerifyOptions layers explicitly set flags over the project config.
func resolveVerifyOptions(flags *pflag.FlagSet, opts verifyOptions, args []string, project *ProjectConfig) (verifyOptions, error) {
	if project == nil {
		project = &ProjectConfig{}
	}

	opts.artifacts = args
	if len(opts.artifacts) == 0 {
		opts.artifacts = project.Artifacts
	}
	if len(opts.artifacts) == 0 {
		return opts, errors.New("must provide artifact paths")
	}

	setString := func(name string, dst *string, fromProject string) {
		if !flags.Changed(name) && fromProject != "" {
			*dst = fromProject
		}
	}
	setString("network", &opts.network, project.Network)
	setString("output", &opts.output, project.Output)
	setString("rpc", &opts.rpc, project.RPC)
	setString("api-url", &opts.apiURL, project.ExplorerURL)
	setString("flattener", &opts.flattener, project.Flattener)

	if !flags.Changed("use-proxy") && project.UseProxy {
		opts.useProxy = true
	}

	if !flags.Changed("delay") {
		d, err := project.delay()
		if err != nil {
			return opts, err
		}
		if d > 0 {
			opts.delay = d
		}
	}
	if opts.delay < 0 {
		return opts, fmt.Errorf("delay must not be negative")
	}

	switch {
	case flags.Changed("optimize") || flags.Changed("optimize-runs"):
		opts.optimizer = domain.Optimizer{
			Enabled: opts.optimize || flags.Changed("optimize-runs"),
			Runs:    opts.optimizeRuns,
		}
	case project.Optimizer != nil:
		opts.optimizer = *project.Optimizer
	default:
		opts.optimizer = domain.DefaultOptimizer()
	}
	if opts.optimizer.Runs <= 0 {
		opts.optimizer.Runs = domain.DefaultOptimizer().Runs
	}

	return opts, nil
}

func runVerify(ctx context.Context, opts verifyOptions, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg, opts.verbose)

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	metrics.Init(cfg.Metrics.Enabled || metricsAddr != "", "contraverify")
	if metricsAddr != "" {
		shutdown := serveMetrics(metricsAddr, logger)
		defer shutdown()
	}

	var rpc *evm.RPCClient
	if opts.rpc != "" {
		rpc, err = evm.DialRPC(ctx, opts.rpc)
		if err != nil {
			return err
		}
		defer rpc.Close()
	}

	network, err := resolveNetwork(ctx, opts.network, rpc)
	if err != nil {
		return err
	}

	key := getAPIKey(network.Name)
	if key == "" {
		return fmt.Errorf("%w: set ETHERSCAN_API_KEY or run 'contraverify auth login'", domain.ErrMissingAPIKey)
	}

	paths, err := artifacts.Expand(".", opts.artifacts)
	if err != nil {
		return err
	}
	entries, err := artifacts.Load(".", paths)
	if err != nil {
		return err
	}

	apiURL := opts.apiURL
	if apiURL == "" {
		apiURL = cfg.Explorer.URL
	}
	if apiURL == "" {
		apiURL = network.APIURL()
	}
	client := etherscan.New(apiURL, key,
		etherscan.WithRateLimit(cfg.Explorer.RequestsPerSec, cfg.Explorer.Burst),
		etherscan.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Explorer.TimeoutSeconds) * time.Second}),
	)

	var txs chains.TransactionFetcher = client
	if !opts.useProxy && rpc != nil {
		txs = rpc
	}

	flattener := flatten.ParseCommand(opts.flattener)
	svc := domain.NewService(domain.LoggingMiddleware(logger)(client), txs, flattener, logger)

	runCfg := domain.RunConfig{
		NetworkID:     network.ID(),
		APIKey:        key,
		Optimizer:     opts.optimizer,
		PollInterval:  opts.delay,
		MaxPollRounds: opts.maxPolls,
		OutputDir:     opts.output,
		Verbose:       opts.verbose,
	}

	if opts.verbose && !opts.jsonOutput {
		printEffectiveConfig(out, network, apiURL, runCfg, opts, flattener, len(entries))
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	started := time.Now()
	report, runErr := svc.Run(ctx, entries, runCfg)
	finished := time.Now()

	if cfg.Storage.Enabled && !opts.noRecord {
		run := buildRun(report, network, apiURL, started, finished, runErr)
		if err := recordRun(cfg.Storage, logger, run); err != nil {
			logger.Warn("recording run in ledger", "error", err)
		} else {
			logger.Debug("recorded run", "run_id", run.ID)
		}
	}

	if runErr != nil {
		return runErr
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report, network, client.CheckStatusURL, opts.verbose)
	}

	if n := len(report.Failed); n > 0 {
		return fmt.Errorf("%w: %d of %d", errContractsFailed, n, report.Total())
	}
	return nil
}

// resolveNetwork picks the network by name, falling back to the chain ID of
// the connected node.
func resolveNetwork(ctx context.Context, name string, rpc *evm.RPCClient) (networks.Network, error) {
	if name != "" {
		network, err := networks.ByName(name)
		if err != nil {
			return networks.Network{}, err
		}
		if rpc != nil {
			if id, err := rpc.ChainID(ctx); err == nil && id != network.ChainID {
				return networks.Network{}, fmt.Errorf("--network %s (chain %d) does not match the RPC node (chain %d)", name, network.ChainID, id)
			}
		}
		return network, nil
	}
	if rpc == nil {
		return networks.Network{}, fmt.Errorf("%w: pass --network or --rpc", domain.ErrMissingNetwork)
	}

	id, err := rpc.ChainID(ctx)
	if err != nil {
		return networks.Network{}, fmt.Errorf("detecting network: %w", err)
	}
	if err := validation.ValidateChainID(id); err != nil {
		return networks.Network{}, fmt.Errorf("detecting network: %w", err)
	}
	return networks.ByChainID(id)
}

// serveMetrics exposes /metrics until the returned func is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.MetricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func joinNames() string {
	return strings.Join(networks.Names(), ", ")
}
