// Package erp submits invoice requests to the ERP system through its SQL
// Server staging table. The ERP picks up new rows and issues the invoice.
package erp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb" // MS SQL Server driver
	"github.com/straye-as/salesflow-api/internal/config"
	"go.uber.org/zap"
)

const defaultHealthCheckTimeout = 5 * time.Second

// ErrDisabled is returned by a nil client
var ErrDisabled = errors.New("erp integration is not enabled")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// InvoiceRequest is one row of the staging table. QuoteID is unique there.
type InvoiceRequest struct {
	RequestRef      string
	QuoteID         uuid.UUID
	OpportunityID   uuid.UUID
	AccountID       *uuid.UUID
	AccountName     string
	BillingName     string
	TaxNumber       string
	Amount          float64
	Notes           string
	RequestedBy     string
	RequestedByName string
	RequestedAt     time.Time
}

// Client writes to the ERP staging database
type Client struct {
	db           *sql.DB
	table        string
	logger       *zap.Logger
	queryTimeout time.Duration
}

// HealthStatus represents the health check result for the ERP connection
type HealthStatus struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
	Open    int           `json:"open_connections"`
	InUse   int           `json:"in_use"`
}

// NewClient connects to the staging database. Returns nil when the
// integration is disabled or has no credentials.
func NewClient(ctx context.Context, cfg *config.ERPConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		logger.Info("ERP integration disabled")
		return nil, nil
	}
	if cfg.URL == "" || cfg.User == "" || cfg.Password == "" {
		logger.Warn("ERP enabled but missing credentials, skipping connection",
			zap.Bool("url_present", cfg.URL != ""),
			zap.Bool("user_present", cfg.User != ""),
			zap.Bool("password_present", cfg.Password != ""),
		)
		return nil, nil
	}
	if !tableNamePattern.MatchString(cfg.StagingTable) {
		return nil, fmt.Errorf("invalid ERP staging table name %q", cfg.StagingTable)
	}

	connStr := buildConnectionString(cfg)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = cfg.ConnectTimeoutDuration()

	var db *sql.DB
	attempt := 0
	connect := func() error {
		attempt++
		conn, err := sql.Open("sqlserver", connStr)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to open ERP connection: %w", err))
		}
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

		pingCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			_ = conn.Close()
			logger.Warn("ERP ping failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		db = conn
		return nil
	}

	if err := backoff.Retry(connect, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to ERP after %d attempts: %w", attempt, err)
	}

	logger.Info("ERP connection established",
		zap.Int("attempts", attempt),
		zap.String("staging_table", cfg.StagingTable),
	)
	return NewClientWithDB(db, cfg.StagingTable, cfg.QueryTimeoutDuration(), logger), nil
}

// NewClientWithDB wraps an already open connection pool
func NewClientWithDB(db *sql.DB, table string, queryTimeout time.Duration, logger *zap.Logger) *Client {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &Client{db: db, table: table, logger: logger, queryTimeout: queryTimeout}
}

// buildConnectionString converts host:port/database into a sqlserver URL
func buildConnectionString(cfg *config.ERPConfig) string {
	urlParts := strings.SplitN(cfg.URL, "/", 2)
	hostPort := urlParts[0]
	database := ""
	if len(urlParts) > 1 {
		database = urlParts[1]
	}

	hostParts := strings.SplitN(hostPort, ":", 2)
	host := hostParts[0]
	port := "1433"
	if len(hostParts) > 1 {
		port = hostParts[1]
	}

	query := url.Values{}
	query.Add("encrypt", "true")
	query.Add("TrustServerCertificate", "false")
	query.Add("connection timeout", "30")
	if database != "" {
		query.Add("database", database)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%s", host, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// submitStatement inserts the request unless the quote already has one and
// returns the stored reference either way. UPDLOCK/HOLDLOCK keeps the key
// range locked until the surrounding transaction commits, so two concurrent
// submissions for one quote serialize instead of both inserting.
func (c *Client) submitStatement() string {
	return fmt.Sprintf(`
IF NOT EXISTS (SELECT 1 FROM %[1]s WITH (UPDLOCK, HOLDLOCK) WHERE QuoteId = @QuoteId)
    INSERT INTO %[1]s (RequestRef, QuoteId, OpportunityId, AccountId, AccountName, BillingName,
        TaxNumber, Amount, Notes, RequestedBy, RequestedByName, RequestedAt, Status)
    VALUES (@RequestRef, @QuoteId, @OpportunityId, @AccountId, @AccountName, @BillingName,
        @TaxNumber, @Amount, @Notes, @RequestedBy, @RequestedByName, @RequestedAt, 'pending');
SELECT RequestRef FROM %[1]s WHERE QuoteId = @QuoteId;`, c.table)
}

// SubmitInvoiceRequest stages an invoice request. Resubmitting the same
// quote returns the reference of the first submission.
func (c *Client) SubmitInvoiceRequest(ctx context.Context, req InvoiceRequest) (string, error) {
	if c == nil || c.db == nil {
		return "", ErrDisabled
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	var accountID interface{}
	if req.AccountID != nil {
		accountID = req.AccountID.String()
	}

	start := time.Now()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ref string
	err = tx.QueryRowContext(ctx, c.submitStatement(),
		sql.Named("RequestRef", req.RequestRef),
		sql.Named("QuoteId", req.QuoteID.String()),
		sql.Named("OpportunityId", req.OpportunityID.String()),
		sql.Named("AccountId", accountID),
		sql.Named("AccountName", req.AccountName),
		sql.Named("BillingName", req.BillingName),
		sql.Named("TaxNumber", req.TaxNumber),
		sql.Named("Amount", req.Amount),
		sql.Named("Notes", req.Notes),
		sql.Named("RequestedBy", req.RequestedBy),
		sql.Named("RequestedByName", req.RequestedByName),
		sql.Named("RequestedAt", req.RequestedAt.UTC()),
	).Scan(&ref)
	if err != nil {
		c.logger.Error("ERP invoice request failed",
			zap.String("quote_id", req.QuoteID.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to stage invoice request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit invoice request: %w", err)
	}

	if ref != req.RequestRef {
		c.logger.Info("Invoice request already staged",
			zap.String("quote_id", req.QuoteID.String()),
			zap.String("request_ref", ref),
		)
	} else {
		c.logger.Info("Invoice request staged",
			zap.String("quote_id", req.QuoteID.String()),
			zap.String("request_ref", ref),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return ref, nil
}

// HealthCheck pings the staging database
func (c *Client) HealthCheck(ctx context.Context) *HealthStatus {
	if c == nil || c.db == nil {
		return &HealthStatus{Status: "disabled"}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultHealthCheckTimeout)
		defer cancel()
	}

	start := time.Now()
	err := c.db.PingContext(ctx)
	stats := c.db.Stats()
	status := &HealthStatus{
		Status:  "healthy",
		Latency: time.Since(start),
		Open:    stats.OpenConnections,
		InUse:   stats.InUse,
	}
	if err != nil {
		c.logger.Warn("ERP health check failed", zap.Error(err))
		status.Status = "unhealthy"
		status.Error = err.Error()
	}
	return status
}

// IsEnabled returns true if the client is connected
func (c *Client) IsEnabled() bool {
	return c != nil && c.db != nil
}

// Close releases the connection pool
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close ERP connection: %w", err)
	}
	c.logger.Info("ERP connection closed")
	return nil
}
