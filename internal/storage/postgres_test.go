package storage

import (
	"context"
	"os"
	"testing"
)

// newTestPostgres connects to TEST_DATABASE_URL and empties every table.
// The test is skipped when the variable is unset.
func newTestPostgres(t *testing.T) Storage {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	if err != nil {
		t.Fatalf("new postgres: %v", err)
	}
	_, err = s.pool.Exec(ctx, `TRUNCATE notifications, job_listings, search_profiles, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
