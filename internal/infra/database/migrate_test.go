package database

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/campus-auth/internal/infra/config"
	"github.com/arklim/campus-auth/internal/migrations"
)

func TestEmbeddedMigrationsCreateAuthTables(t *testing.T) {
	entries, err := fs.ReadDir(migrations.Migrations, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	body, err := fs.ReadFile(migrations.Migrations, entries[0].Name())
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"auth.accounts", "auth.email_verification_tokens", "auth.password_reset_tokens"} {
		if !strings.Contains(string(body), table) {
			t.Fatalf("expected migration to define %s", table)
		}
	}
}

func TestRunMigrationsPropagatesGooseError(t *testing.T) {
	original := gooseUp
	t.Cleanup(func() { gooseUp = original })

	var called bool
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		called = true
		if dir != "." {
			t.Fatalf("expected migrations from base fs root, got %q", dir)
		}
		return errors.New("boom")
	}

	err := runMigrations(context.Background(), nil, zaptest.NewLogger(t))
	if !called {
		t.Fatalf("expected goose to run")
	}
	if err == nil || !strings.Contains(err.Error(), "apply migrations") {
		t.Fatalf("expected wrapped goose error, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	got := DSN(config.PostgresSettings{User: "u", Password: "p", Host: "db", Port: 5432, Database: "campus", SSLMode: "disable"})
	if got != "postgres://u:p@db:5432/campus?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", got)
	}
}
