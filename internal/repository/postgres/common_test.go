package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/evalforge/evalforge/api/internal/config"
	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/database"
)

// getTestDB returns a database connection for integration tests.
// Returns nil if the database is not available (skips tests).
func getTestDB(t *testing.T) *database.PostgresDB {
	// Check if we're running integration tests
	if os.Getenv("POSTGRES_TEST_HOST") == "" {
		t.Skip("Skipping integration test: POSTGRES_TEST_HOST not set")
		return nil
	}

	cfg := config.PostgresConfig{
		Host:     os.Getenv("POSTGRES_TEST_HOST"),
		Port:     5432,
		User:     os.Getenv("POSTGRES_TEST_USER"),
		Password: os.Getenv("POSTGRES_TEST_PASS"),
		Database: os.Getenv("POSTGRES_TEST_DB"),
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}

	if cfg.Database == "" {
		cfg.Database = "test_evalforge"
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}

	db, err := database.NewPostgres(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to PostgreSQL: %v", err)
		return nil
	}

	return db
}

// createTestDataset creates a dataset with test data
func createTestDataset(name string) *domain.Dataset {
	now := time.Now()
	description := "Test dataset description"
	return &domain.Dataset{
		Name:        name,
		Description: &description,
		Metadata:    map[string]any{"source": "test"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// cleanupDatasets removes test datasets; versions, revisions, splits,
// experiments and runs go with them via cascade.
func cleanupDatasets(t *testing.T, db *database.PostgresDB, names ...string) {
	ctx := context.Background()
	for _, name := range names {
		_, _ = db.Pool.Exec(ctx, "DELETE FROM datasets WHERE name = $1", name)
	}
}

// cleanupSourceRecords removes test source records by id
func cleanupSourceRecords(t *testing.T, db *database.PostgresDB, ids ...int64) {
	ctx := context.Background()
	for _, id := range ids {
		_, _ = db.Pool.Exec(ctx, "DELETE FROM source_records WHERE id = $1", id)
	}
}

// seedSourceRecord inserts a source record directly and returns its id
func seedSourceRecord(t *testing.T, db *database.PostgresDB, input, output map[string]any) int64 {
	t.Helper()
	var id int64
	err := db.Pool.QueryRow(context.Background(),
		"INSERT INTO source_records (input, output, metadata, created_at) VALUES ($1, $2, '{}', NOW()) RETURNING id",
		input, output,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed source record: %v", err)
	}
	return id
}
