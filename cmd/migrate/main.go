// Command migrate applies the embedded goose migrations to the salesflow database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/straye-as/salesflow-api/internal/logger"
	"github.com/straye-as/salesflow-api/migrations"
	"go.uber.org/zap"
)

const usage = "usage: migrate <up|up-by-one|down|redo|reset|status|version|create NAME>"

// commands that goose runs against the embedded migrations
var dbCommands = map[string]bool{
	"up": true, "up-by-one": true, "down": true, "redo": true,
	"reset": true, "status": true, "version": true,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	if command == "create" {
		if len(args) == 0 {
			return errors.New("create needs a migration name")
		}
		return goose.Create(nil, "./migrations", args[0], "sql")
	}
	if !dbCommands[command] {
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openWithRetry(ctx, cfg.Database.ConnectionString(), cfg.Database.ConnectTimeoutDuration(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	start := time.Now()
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return err
	}
	log.Info("Migration command finished", zap.String("command", command), zap.Duration("duration", time.Since(start)))
	return nil
}

// openWithRetry waits for the database the same way the API does at startup
func openWithRetry(ctx context.Context, dsn string, maxWait time.Duration, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Warn("Database not reachable yet", zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}
