// Команда migrate применяет и откатывает SQL-миграции orderflow.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
)

const dsnEnv = "ORDERFLOW_POSTGRES_DSN"

// schema — операции мигратора, которые нужны CLI.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

type config struct {
	dsn       string
	direction string
	steps     int
	timeout   time.Duration
}

// result — состояние схемы после команды.
type result struct {
	direction string
	version   int64
	applied   int
}

func (r result) fields() log.Fields {
	return log.Fields{"direction": r.direction, "version": r.version, "applied": r.applied}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn, postgres.WithMaxConns(1))
	if err != nil {
		fail("%v", err)
	}
	defer store.Close()

	res, err := apply(ctx, store, cfg.direction, cfg.steps)
	if err != nil {
		fail("%v", err)
	}
	log.WithFields(res.fields()).Info("schema is up to date")
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&cfg.direction, "direction", "up", "up|down|status")
	fs.IntVar(&cfg.steps, "steps", 0, "migrations to apply or roll back (up: 0 means all, down: defaults to 1)")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN, falls back to "+dsnEnv)
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.direction = strings.ToLower(strings.TrimSpace(cfg.direction))
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(getenv(dsnEnv))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("%s or -dsn is required", dsnEnv)
	}
	if cfg.steps < 0 {
		return config{}, errors.New("-steps must not be negative")
	}
	return cfg, nil
}

func apply(ctx context.Context, s schema, direction string, steps int) (result, error) {
	switch direction {
	case "up":
		if err := s.MigrateUp(ctx, steps); err != nil {
			return result{}, fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if steps == 0 {
			steps = 1
		}
		if err := s.MigrateDown(ctx, steps); err != nil {
			return result{}, fmt.Errorf("migrate down: %w", err)
		}
	case "status":
	default:
		return result{}, fmt.Errorf("unknown direction %q, want up|down|status", direction)
	}

	version, applied, err := s.MigrationStatus(ctx)
	if err != nil {
		return result{}, fmt.Errorf("read migration status: %w", err)
	}
	return result{direction: direction, version: version, applied: applied}, nil
}

func fail(format string, args ...any) {
	log.Errorf(format, args...)
	os.Exit(1)
}
