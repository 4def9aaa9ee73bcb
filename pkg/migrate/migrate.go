// Package migrate owns the CIM schema: embedded goose migrations plus the
// helpers cmd/migrate uses to author and check new ones.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migration files are authored, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Runner applies the embedded migrations to one database.
type Runner struct {
	provider *goose.Provider
}

// NewRunner prepares a Postgres runner. No statements run until a method is called.
func NewRunner(db *sql.DB) (*Runner, error) {
	return newRunner(db, goose.DialectPostgres)
}

func newRunner(db *sql.DB, dialect goose.Dialect) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	fsys, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrate: build goose provider: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// Versions lists the embedded migration versions in apply order.
func (r *Runner) Versions() []int64 {
	sources := r.provider.ListSources()
	versions := make([]int64, 0, len(sources))
	for _, src := range sources {
		versions = append(versions, src.Version)
	}
	return versions
}

// Up applies every pending migration and returns the versions applied.
func (r *Runner) Up(ctx context.Context) ([]int64, error) {
	results, err := r.provider.Up(ctx)
	return appliedVersions(results), wrap("up", err)
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	_, err := r.provider.Down(ctx)
	return wrap("down", err)
}

// Redo rolls back the most recent migration and applies it again.
func (r *Runner) Redo(ctx context.Context) error {
	if _, err := r.provider.Down(ctx); err != nil {
		return wrap("redo", err)
	}
	_, err := r.provider.UpByOne(ctx)
	return wrap("redo", err)
}

// MigrateTo moves the schema up or down until version is the latest applied.
func (r *Runner) MigrateTo(ctx context.Context, version int64) error {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return wrap("version", err)
	}
	switch {
	case version > current:
		_, err = r.provider.UpTo(ctx, version)
	case version < current:
		_, err = r.provider.DownTo(ctx, version)
	}
	return wrap(fmt.Sprintf("migrate to %d", version), err)
}

// Status reports every embedded migration with its applied state.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	status, err := r.provider.Status(ctx)
	return status, wrap("status", err)
}

func appliedVersions(results []*goose.MigrationResult) []int64 {
	var applied []int64
	for _, res := range results {
		if res != nil && res.Source != nil && res.Error == nil {
			applied = append(applied, res.Source.Version)
		}
	}
	return applied
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("migrate %s: %w", op, err)
}
