package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/loykin/kvlet/internal/record"
	"github.com/loykin/kvlet/internal/store"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil // ensure container is never used below
	}

	// container is guaranteed to be non-nil here
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// Try to ping until timeout; helps when container reports ready but DB not yet accepting connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresRecordLifecycle(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	// Ensure DB is ready to accept connections
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	db, err := New(dsn, store.WithClock(clock))
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	target := &record.Target{Method: record.MethodPost, Endpoint: "http://x/cb"}
	first, _, err := db.ReconcileWrite(ctx, record.Write{ID: "pg1", State: "running", Target: target})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _, err := db.ReconcileWrite(ctx, record.Write{ID: "pg1", State: "done"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.Target == nil || *second.Target != *target {
		t.Fatalf("target not preserved: %+v", second.Target)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("unexpected timestamps: first=%+v second=%+v", first, second)
	}

	if err := db.RecordOutcome(ctx, "pg1", 201, "created"); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	got, err := db.Lookup(ctx, "pg1")
	if err != nil || got == nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.State != "done" || got.Response == nil || got.Response.StatusCode != 201 || got.Response.Body != "created" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, _, err := db.ReconcileWrite(ctx, record.Write{ID: "pg2", State: "done"}); err != nil {
		t.Fatal(err)
	}
	list, err := db.List(ctx, store.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "pg2" {
		t.Fatalf("unexpected list: %+v", list)
	}
	filtered, err := db.List(ctx, store.ListOptions{State: "done"})
	if err != nil || len(filtered) != 2 {
		t.Fatalf("filtered list: %+v err=%v", filtered, err)
	}

	if err := db.RecordOutcome(ctx, "absent", 200, ""); !record.IsStorage(err) {
		t.Fatalf("expected storage error for missing id, got %v", err)
	}
	missing, err := db.Lookup(ctx, "absent")
	if err != nil || missing != nil {
		t.Fatalf("lookup missing: %+v err=%v", missing, err)
	}

	// records created in the same millisecond list newest insert first
	same, err := New(dsn, store.WithClock(func() time.Time { return base }))
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = same.Close() })
	for _, id := range []string{"pz", "pa"} {
		if _, _, err := same.ReconcileWrite(ctx, record.Write{ID: id, State: "tie"}); err != nil {
			t.Fatal(err)
		}
	}
	ties, err := same.List(ctx, store.ListOptions{State: "tie"})
	if err != nil {
		t.Fatalf("list ties: %v", err)
	}
	if len(ties) != 2 || ties[0].ID != "pa" || ties[1].ID != "pz" {
		t.Fatalf("unexpected tie order: %+v", ties)
	}
}
