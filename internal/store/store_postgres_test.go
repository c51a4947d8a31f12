package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/iammatthi/spacedrive/internal/store/postgresql"
	_ "github.com/jackc/pgx/v5/stdlib"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// waitForPostgresDSN pings the DSN until it responds or timeout elapses (pgx stdlib).
func waitForPostgresDSN(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			pingErr := db.Ping()
			_ = db.Close()
			if pingErr == nil {
				return nil
			}
			lastErr = pingErr
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for postgres")
	}
	return lastErr
}

// Integration test with PostgreSQL via testcontainers
func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "sdmigrate_test",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("skipping Postgres container test: %v", err)
		return
	}
	defer func() { _ = pg.Terminate(ctx) }()

	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("container host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/sdmigrate_test?sslmode=disable", host, port.Port())

	// Ensure DB is accepting connections before opening the store
	if err := waitForPostgresDSN(dsn, 30*time.Second); err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("postgres not ready: %v", err)
	}

	s, err := Open(ctx, Config{Type: "postgres", Postgres: postgresql.Config{DSN: dsn}})
	if err != nil {
		t.Fatalf("Open(postgres): %v", err)
	}
	defer func() { _ = s.Close() }()

	// Both schema bootstraps must be idempotent.
	for i := 0; i < 2; i++ {
		if err := s.EnsureEntities(ctx); err != nil {
			t.Fatalf("EnsureEntities: %v", err)
		}
	}
	for _, tbl := range []string{"migration_runs", "indexer_rule", "node", "file_path"} {
		if n, err := s.Count(ctx, "information_schema.tables", sq.Eq{"table_name": tbl}); err != nil || n != 1 {
			t.Fatalf("expected table %s to exist: n=%d err=%v", tbl, n, err)
		}
	}

	if err := s.Batch(ctx,
		s.Builder().Insert("file_path").Columns("size_in_bytes").Values("1024"),
		s.Builder().Insert("node").Columns("name").Values("laptop"),
	); err != nil {
		t.Fatalf("Batch(insert): %v", err)
	}

	affected, err := s.Update(ctx, s.Builder().Update("node").
		Set("pub_id", []byte{1, 2, 3}).
		Set("node_peer_id", "peer"))
	if err != nil || affected != 1 {
		t.Fatalf("Update(node) = %d, %v", affected, err)
	}

	var rows []struct {
		ID          int64   `db:"id"`
		SizeInBytes *string `db:"size_in_bytes"`
	}
	if err := s.Select(ctx, &rows, s.Builder().Select("id", "size_in_bytes").From("file_path").
		Where(sq.NotEq{"size_in_bytes": nil}).Limit(500)); err != nil {
		t.Fatalf("Select(file_path): %v", err)
	}
	if len(rows) != 1 || rows[0].SizeInBytes == nil || *rows[0].SizeInBytes != "1024" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	ranAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.RecordRun(ctx, Run{Document: "lib", Version: 5, Status: RunStatusFailed, Error: "boom", Failed: true, RanAt: ranAt}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	runs, err := s.ListRuns(ctx, "lib")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || !runs[0].Failed || runs[0].Error != "boom" || !runs[0].RanAt.Equal(ranAt) {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
