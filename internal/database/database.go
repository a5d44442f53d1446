package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/straye-as/salesflow-api/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the PostgreSQL connection pool, retrying with exponential
// backoff until cfg.ConnectTimeout elapses so the API can start before the
// database is reachable.
func NewDatabase(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dsn := cfg.ConnectionString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = cfg.ConnectTimeoutDuration()

	var db *gorm.DB
	attempt := 0
	connect := func() error {
		attempt++
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if err != nil {
			log.Warn("Database connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to get database instance: %w", err))
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			log.Warn("Database ping failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		db = conn
		return nil
	}

	if err := backoff.Retry(connect, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
	}

	log.Info("Database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
		zap.Int("attempts", attempt),
	)
	return db, nil
}

// Models lists every persisted engine model in dependency order
func Models() []interface{} {
	return []interface{}{
		&domain.Organization{},
		&domain.Lead{},
		&domain.Opportunity{},
		&domain.Quote{},
		&domain.StageTransition{},
		&domain.Activity{},
	}
}

// AutoMigrate creates the schema from the models (development and tests only;
// production schema is owned by the goose migrations)
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// HealthStatus reports connectivity and pool statistics
type HealthStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Open      int    `json:"openConnections"`
	InUse     int    `json:"inUse"`
	Idle      int    `json:"idle"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck pings the database
func HealthCheck(ctx context.Context, db *gorm.DB) *HealthStatus {
	start := time.Now()
	sqlDB, err := db.DB()
	if err != nil {
		return &HealthStatus{Status: "unhealthy", Error: err.Error()}
	}

	err = sqlDB.PingContext(ctx)
	stats := sqlDB.Stats()
	status := &HealthStatus{
		Status:    "healthy",
		LatencyMs: time.Since(start).Milliseconds(),
		Open:      stats.OpenConnections,
		InUse:     stats.InUse,
		Idle:      stats.Idle,
	}
	if err != nil {
		status.Status = "unhealthy"
		status.Error = err.Error()
	}
	return status
}
