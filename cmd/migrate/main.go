package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// schemaCommand runs against a live database.
type schemaCommand func(ctx context.Context, r *migrate.Runner, opts options, out io.Writer) error

var schemaCommands = map[string]schemaCommand{
	"up": func(ctx context.Context, r *migrate.Runner, _ options, out io.Writer) error {
		applied, err := r.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s) %v\n", len(applied), applied)
		return nil
	},
	"down": func(ctx context.Context, r *migrate.Runner, _ options, _ io.Writer) error {
		return r.Down(ctx)
	},
	"redo": func(ctx context.Context, r *migrate.Runner, _ options, _ io.Writer) error {
		return r.Redo(ctx)
	},
	"status": func(ctx context.Context, r *migrate.Runner, _ options, out io.Writer) error {
		rows, err := r.Status(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Fprintf(out, "%-16d %-10s %s\n", row.Source.Version, row.State, row.Source.Path)
		}
		return nil
	},
	"version": func(ctx context.Context, r *migrate.Runner, opts options, _ io.Writer) error {
		target, err := parseVersion(opts.version)
		if err != nil {
			return err
		}
		return r.MigrateTo(ctx, target)
	},
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory for create and validate")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	handled, err := runOffline(opts, out)
	if handled || err != nil {
		return err
	}

	apply, ok := schemaCommands[opts.cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd value: %s", opts.cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logg := logger.FromConfig("migrate", cfg.App)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()

	pool, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(pool)
	if err != nil {
		return err
	}
	if err := apply(ctx, runner, opts, out); err != nil {
		logg.Error(ctx, "migrate failed", err)
		return err
	}
	logg.Info(ctx, "migrate finished")
	return nil
}

// runOffline handles the commands that only touch the migrations directory.
func runOffline(opts options, out io.Writer) (bool, error) {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return true, errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return true, fmt.Errorf("create migration: %w", err)
		}
		fmt.Fprintln(out, "created migration:", path)
		return true, nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return true, fmt.Errorf("migration validation failed: %w", err)
		}
		fmt.Fprintln(out, "migration validation passed")
		return true, nil
	}
	return false, nil
}

func parseVersion(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("-version must be a YYYYMMDDHHMMSS migration version, got %q", raw)
	}
	return v, nil
}
