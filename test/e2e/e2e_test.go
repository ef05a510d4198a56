//go:build e2e

package e2e

import (
	"context"
	"log"
	"os"
	"testing"
)

var testCtx *TestContext

func TestMain(m *testing.M) {
	ctx := context.Background()

	if os.Getenv("DOCKER_HOST") == "" && os.Getenv("TESTCONTAINERS_DOCKER_SOCKET") == "" {
		log.Println("Using default Docker socket for testcontainers")
	}

	testCtx = &TestContext{}

	// 1. Start Postgres container
	log.Println("Starting Postgres container...")
	var err error
	testCtx.PostgresContainer, testCtx.ConnString, err = setupPostgresE(ctx)
	if err != nil {
		log.Fatalf("Failed to start postgres: %v", err)
	}

	// 2. Open the ledger and record fixture runs
	testCtx.Store, err = openStoreE(ctx, testCtx.ConnString)
	if err != nil {
		_ = testCtx.PostgresContainer.Terminate(ctx)
		log.Fatalf("Failed to open ledger: %v", err)
	}
	testCtx.Runs, err = seedRunsE(ctx, testCtx.Store)
	if err != nil {
		_ = testCtx.PostgresContainer.Terminate(ctx)
		log.Fatalf("Failed to seed ledger: %v", err)
	}

	// 3. Start history server
	testCtx.TestServer, err = startServerE(testCtx.Store, testAPIKey)
	if err != nil {
		_ = testCtx.PostgresContainer.Terminate(ctx)
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Println("Test server started at:", testCtx.TestServer.URL)

	exitCode := m.Run()

	testCtx.TestServer.Close()
	testCtx.Store.Close()
	if err := testCtx.PostgresContainer.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate postgres container: %v", err)
	}

	log.Println("E2E tests completed with exit code:", exitCode)
	os.Exit(exitCode)
}
