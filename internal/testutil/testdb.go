package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// engineTables are emptied before every test, children first. The catalog
// tables go too; only the system actor from the first migration survives.
var engineTables = []string{
	"idempotency_cache",
	"gateway_callbacks",
	"settlement_events",
	"settlement_approvals",
	"settlement_reconciliations",
	"payment_settlements",
	"payment_reconciliations",
	"bookings",
	"hostels",
}

// One migrated Postgres per test binary. The testcontainers reaper removes the
// container when the binary exits.
var shared struct {
	once sync.Once
	dsn  string
	db   *sql.DB
	err  error
}

// SetupTestDB returns the package's migrated database, emptied of everything a
// previous test wrote. Tests using it must not run in parallel.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := sharedDB(t)
	Reset(t, db)
	return db
}

func sharedDB(t *testing.T) *sql.DB {
	t.Helper()
	shared.once.Do(func() {
		shared.dsn, shared.db, shared.err = startPostgres(context.Background())
	})
	if shared.err != nil {
		t.Fatalf("setup test db: %v", shared.err)
	}
	return shared.db
}

// OpenInZone opens a second pool on the test database whose sessions run in
// the given IANA time zone, for checks that must not depend on the server
// default being UTC. It does not reset the tables.
func OpenInZone(t *testing.T, zone string) *sql.DB {
	t.Helper()
	sharedDB(t)

	u, err := url.Parse(shared.dsn)
	if err != nil {
		t.Fatalf("parse test dsn: %v", err)
	}
	q := u.Query()
	q.Set("timezone", zone)
	u.RawQuery = q.Encode()

	db, err := sql.Open("postgres", u.String())
	if err != nil {
		t.Fatalf("open db in %s: %v", zone, err)
	}
	t.Cleanup(func() { db.Close() })

	var got string
	if err := db.QueryRow(`SHOW TIMEZONE`).Scan(&got); err != nil {
		t.Fatalf("read session time zone: %v", err)
	}
	if got != zone {
		t.Fatalf("session time zone is %s, want %s", got, zone)
	}
	return db
}

// Reset truncates the settlement, reconciliation and catalog tables and
// removes every user except the system actor.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	stmt := "TRUNCATE " + strings.Join(engineTables, ", ") + " CASCADE"
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("truncate engine tables: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM users WHERE id <> $1`, SystemUserID); err != nil {
		t.Fatalf("remove test users: %v", err)
	}
}

func startPostgres(ctx context.Context) (string, *sql.DB, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("roomlink_test"),
		postgres.WithUsername("roomlink"),
		postgres.WithPassword("roomlink"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", nil, fmt.Errorf("connection string: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", nil, fmt.Errorf("open db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return "", nil, err
	}
	if err := checkSystemActor(db); err != nil {
		db.Close()
		return "", nil, err
	}
	return dsn, db, nil
}

// migrate applies every *.up.sql in name order.
func migrate(db *sql.DB) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var ups []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	slices.Sort(ups)

	for _, name := range ups {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Scheduled runs and transfer callbacks act as this user.
func checkSystemActor(db *sql.DB) error {
	var role string
	err := db.QueryRow(`SELECT role FROM users WHERE id = $1`, SystemUserID).Scan(&role)
	if err != nil {
		return fmt.Errorf("system actor %s missing after migrations: %w", SystemUserID, err)
	}
	if role != "super_admin" {
		return fmt.Errorf("system actor has role %s, want super_admin", role)
	}
	return nil
}

// migrationsDir walks up from the package under test to the module root.
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return "", fmt.Errorf("no migrations directory under module root %s", dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory not found")
		}
		dir = parent
	}
}
