package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contraverify/internal/etherscan"
	"github.com/pendergraft/contraverify/internal/networks"
)

// defaultCredential holds the key used for networks without their own entry
const defaultCredential = "default"

// Credentials stores Etherscan API keys per network
type Credentials struct {
	Networks map[string]NetworkCredential `yaml:"networks"`
}

// NetworkCredential stores the key for a single network
type NetworkCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"` // Optional name/description
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Etherscan API keys",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an Etherscan API key",
		Long: `Save an Etherscan API key.

The key is stored in ~/.contraverify/credentials with secure file permissions.
Without --network it becomes the default key for every network.

EXAMPLES:
  # Interactive login (prompts for API key)
  contraverify auth login

  # Key used only for goerli
  contraverify auth login --network goerli

  # Non-interactive login (for CI)
  contraverify auth login --api-key $ETHERSCAN_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.network, "network", "", "network the key is for (default: all networks)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key (prompts if not provided)")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "explorer API used to validate the key")
	cmd.Flags().BoolVar(&opts.skipValidation, "skip-validation", false, "store the key without checking it")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var network string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove saved API keys.

EXAMPLES:
  # Remove the default key
  contraverify auth logout

  # Remove the key for one network
  contraverify auth logout --network goerli

  # Clear all credentials
  contraverify auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(network, allFlag)
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "network whose key to remove (default: the default key)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored API keys",
		Long: `Show the stored API keys, masked.

EXAMPLES:
  contraverify auth status
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}

	return cmd
}

type loginOptions struct {
	network        string
	apiKey         string
	apiURL         string
	skipValidation bool
}

func runAuthLogin(ctx context.Context, opts loginOptions) error {
	entry := defaultCredential
	net, err := networks.ByName("mainnet")
	if err != nil {
		return err
	}
	if opts.network != "" {
		if net, err = networks.ByName(opts.network); err != nil {
			return err
		}
		entry = net.Name
	}

	// Get API key
	key := opts.apiKey
	if key == "" {
		fmt.Printf("Enter Etherscan API key for %s: ", entry)

		// Try to read password without echo
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteKey, err := term.ReadPassword(stdinFd)
			fmt.Println() // New line after password input
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = string(byteKey)
		} else {
			// Non-terminal, read from stdin
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = line
		}
	}
	key = strings.TrimSpace(key)

	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if !opts.skipValidation {
		apiURL := opts.apiURL
		if apiURL == "" {
			apiURL = net.APIURL()
		}
		fmt.Printf("Validating key with %s...\n", apiURL)

		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := etherscan.New(apiURL, key).ValidateAPIKey(ctx); err != nil {
			return fmt.Errorf("failed to validate API key: %w", err)
		}
	}

	if err := saveCredential(entry, key); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Stored API key for %s (key: %s)\n", entry, maskAPIKey(key))
	fmt.Printf("   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

func runAuthLogout(network string, all bool) error {
	if all {
		// Remove all credentials
		path := credentialsFilePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("✅ All credentials cleared")
		return nil
	}

	entry := network
	if entry == "" {
		entry = defaultCredential
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No credentials found for %s\n", entry)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Networks[entry]; !exists {
		fmt.Printf("No credentials found for %s\n", entry)
		return nil
	}

	delete(creds.Networks, entry)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Removed API key for %s\n", entry)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds == nil || len(creds.Networks) == 0 {
		fmt.Println("No API keys stored")
		fmt.Println("\nRun 'contraverify auth login' to store one")
		return nil
	}

	names := make([]string, 0, len(creds.Networks))
	for name := range creds.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Stored API keys:")
	for _, name := range names {
		cred := creds.Networks[name]
		masked := maskAPIKey(cred.APIKey)
		if cred.Name != "" {
			fmt.Printf("  • %s (%s, key: %s)\n", name, cred.Name, masked)
		} else {
			fmt.Printf("  • %s (key: %s)\n", name, masked)
		}
	}

	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contraverify"
	}
	return filepath.Join(home, ".contraverify")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	path := credentialsFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Networks == nil {
		creds.Networks = make(map[string]NetworkCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	dir := credentialsDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	path := credentialsFilePath()
	return os.WriteFile(path, data, 0600) // Secure permissions
}

func saveCredential(network, key string) error {
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			creds = &Credentials{Networks: make(map[string]NetworkCredential)}
		} else {
			return err
		}
	}

	creds.Networks[network] = NetworkCredential{APIKey: key}
	return writeCredentials(creds)
}

func getCredential(network string) string {
	if network == "" {
		return ""
	}
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	if cred, ok := creds.Networks[network]; ok {
		return cred.APIKey
	}
	return ""
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
