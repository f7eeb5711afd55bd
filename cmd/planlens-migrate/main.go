package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planlens/planlens/internal/catalog/postgres"
	"github.com/planlens/planlens/internal/config"
	"github.com/planlens/planlens/internal/migrations"
	"github.com/planlens/planlens/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "planlens-migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("planlens-migrate", flag.ContinueOnError)
	flags.SetOutput(stderr)
	direction := flags.String("direction", "up", "up, down or status")
	steps := flags.Int("steps", 0, "steps to run; 0 applies all pending on up and one on down")
	timeout := flags.Duration("timeout", time.Minute, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv("planlens-migrate")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Catalog.DSN == "" {
		return errors.New("PLANLENS_CATALOG_DSN is required")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := postgres.Open(ctx, postgres.DBConfig{DSN: cfg.Catalog.DSN, MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner(migrations.WithLogger(observability.NewLogger(cfg, stderr)))
	switch *direction {
	case "up":
		n, err := runner.Up(ctx, db, *steps)
		if err != nil {
			return fmt.Errorf("up after %d step(s): %w", n, err)
		}
		fmt.Fprintf(stdout, "applied %d migration(s)\n", n)
	case "down":
		n, err := runner.Down(ctx, db, *steps)
		if err != nil {
			return fmt.Errorf("down after %d step(s): %w", n, err)
		}
		fmt.Fprintf(stdout, "rolled back %d migration(s)\n", n)
	case "status":
		status, err := runner.Status(ctx, db)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "applied: %v\npending: %v\n", status.Applied, status.Pending)
	default:
		return fmt.Errorf("unknown direction %q", *direction)
	}
	return nil
}
