package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/flatten"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"contraverify.toml", "verify.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Network     string            `toml:"network,omitempty"`
	Artifacts   []string          `toml:"artifacts,omitempty"`
	Output      string            `toml:"output,omitempty"`
	Delay       string            `toml:"delay,omitempty"` // Go duration, e.g. "20s"
	UseProxy    bool              `toml:"use_proxy,omitempty"`
	RPC         string            `toml:"rpc,omitempty"`
	Flattener   string            `toml:"flattener,omitempty"`
	ExplorerURL string            `toml:"explorer_url,omitempty"`
	Optimizer   *domain.Optimizer `toml:"optimizer,omitempty"`
}

// delay parses Delay, returning zero when unset.
func (p *ProjectConfig) delay() (time.Duration, error) {
	if p.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Delay)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", p.Delay, err)
	}
	return d, nil
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var network string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a contraverify.toml configuration file in the current directory.

This file stores project settings like the target network, artifact
globs, optimizer settings and the flattener command.

EXAMPLES:
  # Create config for goerli
  contraverify config init --network goerli

  # Overwrite existing config
  contraverify config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(network, force)
		},
	}

	cmd.Flags().StringVar(&network, "network", "mainnet", "network to verify on")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows the environment, the local project config (contraverify.toml) and the
credentials from ~/.contraverify/credentials.

EXAMPLES:
  contraverify config show
  contraverify config show --network goerli
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(network)
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "network whose API key to resolve")

	return cmd
}

func runConfigInit(network string, force bool) error {
	configPath := projectConfigFiles[0]

	// Check if any config file already exists
	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	opt := domain.DefaultOptimizer()
	content := fmt.Sprintf(`# contraverify project configuration

network = "%s"

# Truffle artifacts to verify (globs allowed)
artifacts = ["build/contracts/*.json"]

# Wait between verification status checks
delay = "%s"

# Command that prints the flattened source of a .sol file
flattener = "%s"

# Fetch deployment transactions through the explorer instead of an RPC node
use_proxy = true
# rpc = "http://localhost:8545"

# Write flattened sources here
# output = "flattened"

[optimizer]
enabled = %t
runs = %d
`, network, domain.DefaultPollInterval, flatten.DefaultCommand, opt.Enabled, opt.Runs)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to customize settings\n", configPath)
	fmt.Println("  2. Run 'contraverify auth login' to store your Etherscan API key")
	fmt.Println("  3. Run 'contraverify verify' to verify your deployments")

	return nil
}

func runConfigShow(network string) error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	// 1. Command line flags
	fmt.Println("1. Command line flags")
	fmt.Println("   --api-key, --config, verify flags")
	fmt.Println()

	// 2. Environment variables
	fmt.Println("2. Environment variables")
	for _, name := range []string{"ETHERSCAN_API_KEY", "API_KEY"} {
		if v := os.Getenv(name); v != "" {
			fmt.Printf("   %s=%s\n", name, maskAPIKey(v))
		} else {
			fmt.Printf("   %s=(not set)\n", name)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Printf("   ledger: %s (enabled: %t)\n", ledgerLocation(cfg.Storage), cfg.Storage.Enabled)
	fmt.Printf("   explorer rate limit: %.2f req/s, burst %d\n", cfg.Explorer.RequestsPerSec, cfg.Explorer.Burst)
	fmt.Println()

	// 3. Local project config
	fmt.Println("3. Local project config (contraverify.toml or verify.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", configPath)
		printProjectConfig(projectConfig)
		if network == "" {
			network = projectConfig.Network
		}
	}
	fmt.Println()

	// 4. Credentials
	fmt.Println("4. Credentials (~/.contraverify/credentials)")
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else if len(creds.Networks) == 0 {
		fmt.Println("   (no credentials stored)")
	} else {
		for name, cred := range creds.Networks {
			fmt.Printf("   %s: %s\n", name, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Println()

	// Effective config
	fmt.Println("Effective configuration:")
	if network == "" {
		fmt.Println("   Network: (not set)")
	} else {
		fmt.Printf("   Network: %s\n", network)
	}
	if key := getAPIKey(network); key != "" {
		fmt.Printf("   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Println("   API Key: (not set)")
	}

	return nil
}

func printProjectConfig(p *ProjectConfig) {
	if p.Network != "" {
		fmt.Printf("   network: %s\n", p.Network)
	}
	if len(p.Artifacts) > 0 {
		fmt.Printf("   artifacts: %s\n", strings.Join(p.Artifacts, ", "))
	}
	if p.Output != "" {
		fmt.Printf("   output: %s\n", p.Output)
	}
	if p.Delay != "" {
		fmt.Printf("   delay: %s\n", p.Delay)
	}
	if p.UseProxy {
		fmt.Println("   use_proxy: true")
	}
	if p.RPC != "" {
		fmt.Printf("   rpc: %s\n", p.RPC)
	}
	if p.Flattener != "" {
		fmt.Printf("   flattener: %s\n", p.Flattener)
	}
	if p.ExplorerURL != "" {
		fmt.Printf("   explorer_url: %s\n", p.ExplorerURL)
	}
	if p.Optimizer != nil {
		fmt.Printf("   optimizer: enabled=%t runs=%d\n", p.Optimizer.Enabled, p.Optimizer.Runs)
	}
}

func ledgerLocation(cfg config.StorageConfig) string {
	if cfg.Type == "postgres" {
		return "postgres"
	}
	return cfg.SQLite.Path
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	// If --config flag was provided, use that directly
	if cfgFile != "" {
		pc, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return pc, cfgFile, nil
	}

	// Search for config files in order
	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			pc, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return pc, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pc ProjectConfig
	if _, err := toml.Decode(string(data), &pc); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &pc, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns an empty config if the file doesn't exist, and warns on parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	pc, _, err := loadProjectConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return &ProjectConfig{}
	}
	return pc
}
