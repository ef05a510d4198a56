//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/contraverify/internal/auth"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/pkg/client"
)

const testAPIKey = "cvk_e2e_test_key"

// Addresses recorded by seedRunsE
const (
	tokenAddress = "0x1111111111111111111111111111111111111111"
	saleAddress  = "0x2222222222222222222222222222222222222222"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Store             storage.Store
	TestServer        *httptest.Server
	// Runs are the seeded runs, oldest first
	Runs []*storage.Run
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("contraverify"),
		postgres.WithUsername("contraverify"),
		postgres.WithPassword("contraverify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return container, connString, nil
}

// openStoreE opens and migrates the Postgres ledger
func openStoreE(ctx context.Context, connString string) (storage.Store, error) {
	store, err := storage.NewPostgresStore(connString, nil)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// seedRunsE records three runs: two on goerli and one on mainnet. The token
// fails on the first goerli run and verifies on the second.
func seedRunsE(ctx context.Context, store storage.RunStore) ([]*storage.Run, error) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []*storage.Run{
		{
			Network: "goerli", ChainID: 5, APIURL: "https://api-goerli.etherscan.io/api",
			StartedAt: base, FinishedAt: base.Add(time.Minute),
			Succeeded: 1, Failed: 1,
			Results: []storage.Result{
				{ArtifactKey: "/build/Token.json", ContractName: "Token", Address: tokenAddress, Outcome: "failed", GUID: "g-1", Message: "Fail - Unable to verify"},
				{ArtifactKey: "/build/Sale.json", ContractName: "Sale", Address: saleAddress, Outcome: "succeeded", GUID: "g-2"},
			},
		},
		{
			Network: "goerli", ChainID: 5, APIURL: "https://api-goerli.etherscan.io/api",
			StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute),
			AlreadyVerified: 1, Succeeded: 1,
			Results: []storage.Result{
				{ArtifactKey: "/build/Sale.json", ContractName: "Sale", Address: saleAddress, Outcome: "already_verified", Message: "already verified"},
				{ArtifactKey: "/build/Token.json", ContractName: "Token", Address: tokenAddress, Outcome: "succeeded", GUID: "g-3"},
			},
		},
		{
			Network: "mainnet", ChainID: 1, APIURL: "https://api.etherscan.io/api",
			StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2 * time.Hour),
			Error: "etherscan rejected the API key",
		},
	}

	for _, run := range runs {
		if err := store.RecordRun(ctx, run); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}
	return runs, nil
}

// startServerE serves the ledger behind the given API key
func startServerE(store storage.Store, apiKey string) (*httptest.Server, error) {
	keys, err := auth.NewKeySet([]string{auth.HashPrefix + auth.HashAPIKey(apiKey)})
	if err != nil {
		return nil, err
	}
	srv := server.New(store, nil, server.WithAPIKeys(keys))
	return httptest.NewServer(srv.Handler()), nil
}

// newClient creates a client for the shared test server
func newClient(apiKey string) *client.Client {
	return client.New(testCtx.TestServer.URL, apiKey)
}

// assertAPIError checks that err is an API error with the given code
func assertAPIError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err)

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		require.Equal(t, expectedCode, apiErr.Code, "unexpected error code: %s", apiErr.Message)
		return
	}
	require.True(t, strings.Contains(err.Error(), expectedCode), "expected %s, got %v", expectedCode, err)
}
