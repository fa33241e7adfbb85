// Package migrations owns the versioned database schema.
//
// The SQL files use unqualified table names; the runner pins search_path to the
// configured schema so the same files serve production and per-test schemas.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"

	_ "github.com/lib/pq"
)

//go:embed sql/*.sql
var files embed.FS

// ErrInvalidInput is returned for empty URLs or schema names.
var ErrInvalidInput = errors.New("migrations: invalid input")

// Up applies every pending migration to schema, creating the schema first.
func Up(ctx context.Context, databaseURL, schema string) error {
	databaseURL = strings.TrimSpace(databaseURL)
	schema = strings.TrimSpace(schema)
	if databaseURL == "" || schema == "" {
		return ErrInvalidInput
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := conn.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+ident); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SET search_path TO `+ident); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{SchemaName: schema})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	src, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// UpSQL returns every up migration concatenated in version order, prefixed
// with a search_path switch to schema. It is meant for a single simple-protocol
// Exec, e.g. when preparing throwaway schemas in integration tests.
func UpSQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", ErrInvalidInput
	}

	names, err := fs.Glob(files, "sql/*.up.sql")
	if err != nil {
		return "", err
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("SET search_path TO ")
	b.WriteString(pgx.Identifier{schema}.Sanitize())
	b.WriteString(";\n")
	for _, name := range names {
		raw, err := files.ReadFile(name)
		if err != nil {
			return "", err
		}
		b.Write(raw)
		b.WriteString("\n")
	}
	return b.String(), nil
}
