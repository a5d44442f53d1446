package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/straye-as/salesflow-api/internal/secrets"
	"go.uber.org/zap"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Secrets   SecretsConfig
	Logging   LoggingConfig
	Server    ServerConfig
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	SMTP      SMTPConfig
	ERP       ERPConfig
	Pipeline  PipelineConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Port        int
}

type DatabaseConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	// ConnectTimeout bounds the startup retry loop (seconds)
	ConnectTimeout int
}

// AuthConfig holds credentials used to resolve the acting staff member
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret for bearer tokens
	JWTSecret string
	// JWTIssuer is the expected "iss" claim (empty disables the check)
	JWTIssuer string
	// APIKey allows system integrations (web intake forms) to call the API
	APIKey string
	// APIKeyActorName is the display name stamped on audit records for API key callers
	APIKeyActorName string
}

type StorageConfig struct {
	Mode                  string
	LocalBasePath         string
	CloudConnectionString string
	CloudContainer        string
	MaxUploadSizeMB       int64
}

type SecretsConfig struct {
	// Source determines where secrets are loaded from: "environment", "vault", or "auto"
	// "auto" uses environment in development, vault in staging/production
	Source       string
	KeyVaultName string
	CacheEnabled bool
	CacheTTL     int // seconds
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout int
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins for CORS requests
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is the max age (in seconds) for preflight cache
	MaxAge int
}

// SecurityConfig holds security header configuration
type SecurityConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool
	ContentSecurityPolicy string
	FrameOptions          string
	ContentTypeNosniff    bool
	XSSProtection         string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled               bool
	RequestsPerMinute     int
	RequestsPerMinuteAuth int
	BurstSize             int
	WhitelistIPs          []string
	WhitelistPaths        []string
}

// SMTPConfig configures the invoice e-mail sender
type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// Timeout for a single delivery attempt (seconds)
	Timeout int
}

// ERPConfig holds configuration for the MS SQL Server ERP staging database
// that receives invoice requests
type ERPConfig struct {
	Enabled bool
	// URL is the connection URL in format host:port/database
	URL      string
	User     string
	Password string
	// StagingTable receives one row per invoice request
	StagingTable    string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	QueryTimeout    int
	// ConnectTimeout bounds the startup retry loop (seconds)
	ConnectTimeout int
}

// PipelineConfig holds the business policy of the sales pipeline
type PipelineConfig struct {
	// DefaultProbability seeds opportunities created by lead conversion
	DefaultProbability int
	// DealNamePrefixes are stripped from opportunity names when deriving account names
	DealNamePrefixes []string
	// AllowDeleteConvertedLeads keeps hard delete available for converted leads
	AllowDeleteConvertedLeads bool
	// LeadRediscovery controls repeat intake submissions for a known e-mail: "note" or "merge"
	LeadRediscovery string
}

// Lead re-discovery modes
const (
	LeadRediscoveryNote  = "note"
	LeadRediscoveryMerge = "merge"
)

// ConnectionString builds PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// ReadTimeoutDuration returns read timeout as duration
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns write timeout as duration
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns request timeout as duration
func (s *ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// ConnMaxLifetimeDuration returns connection max lifetime as duration
func (d *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

// ConnectTimeoutDuration returns the startup connect budget as duration
func (d *DatabaseConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// ConnMaxLifetimeDuration returns connection max lifetime as duration
func (e *ERPConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(e.ConnMaxLifetime) * time.Second
}

// QueryTimeoutDuration returns query timeout as duration
func (e *ERPConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(e.QueryTimeout) * time.Second
}

// ConnectTimeoutDuration returns the startup connect budget as duration
func (e *ERPConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(e.ConnectTimeout) * time.Second
}

// TimeoutDuration returns the SMTP delivery timeout as duration
func (s *SMTPConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Load loads configuration from file and environment variables
// This is a basic load that doesn't fetch secrets from vault
// Use LoadWithSecrets for full secret resolution
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.APIKey == "" {
		cfg.Auth.APIKey = v.GetString("ADMIN_API_KEY")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")
	}
	if cfg.Secrets.KeyVaultName == "" {
		cfg.Secrets.KeyVaultName = v.GetString("AZURE_KEY_VAULT_NAME")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks policy values that would otherwise fail at request time
func (c *Config) Validate() error {
	if c.Pipeline.DefaultProbability < 0 || c.Pipeline.DefaultProbability > 100 {
		return fmt.Errorf("pipeline.defaultProbability must be between 0 and 100, got %d", c.Pipeline.DefaultProbability)
	}
	switch c.Pipeline.LeadRediscovery {
	case LeadRediscoveryNote, LeadRediscoveryMerge:
	default:
		return fmt.Errorf("pipeline.leadRediscovery must be %q or %q, got %q",
			LeadRediscoveryNote, LeadRediscoveryMerge, c.Pipeline.LeadRediscovery)
	}
	return nil
}

// LoadWithSecrets loads configuration and resolves secrets from the configured source.
// In development secrets come from environment variables, in staging/production
// from Azure Key Vault (see secrets.SourceAuto).
func LoadWithSecrets(ctx context.Context, logger *zap.Logger) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	provider, err := secrets.NewProvider(&secrets.ProviderConfig{
		Source:       secrets.SecretSource(cfg.Secrets.Source),
		VaultName:    cfg.Secrets.KeyVaultName,
		Environment:  cfg.App.Environment,
		CacheEnabled: cfg.Secrets.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Secrets.CacheTTL) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets provider: %w", err)
	}

	applySecrets(ctx, cfg, provider)

	logger.Info("Secrets resolved",
		zap.String("source", string(provider.Source())),
		zap.Bool("smtp_enabled", cfg.SMTP.Enabled),
		zap.Bool("erp_enabled", cfg.ERP.Enabled),
	)
	return cfg, nil
}

// SecretGetter is the subset of secrets.Provider used to populate the config
type SecretGetter interface {
	GetSecretOrEnvWithDefault(ctx context.Context, secretName, envName, defaultValue string) string
}

func applySecrets(ctx context.Context, cfg *Config, provider SecretGetter) {
	cfg.Database.Host = provider.GetSecretOrEnvWithDefault(ctx, "POSTGRES-MAIN-HOST", "DATABASE_HOST", cfg.Database.Host)
	cfg.Database.User = provider.GetSecretOrEnvWithDefault(ctx, "POSTGRES-MAIN-USER", "DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = provider.GetSecretOrEnvWithDefault(ctx, "POSTGRES-MAIN-PASSWORD", "DATABASE_PASSWORD", cfg.Database.Password)
	if sslMode := os.Getenv("DATABASE_SSLMODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}

	cfg.Auth.JWTSecret = provider.GetSecretOrEnvWithDefault(ctx, "jwt-signing-secret", "JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.APIKey = provider.GetSecretOrEnvWithDefault(ctx, "admin-api-key", "ADMIN_API_KEY", cfg.Auth.APIKey)

	cfg.Storage.CloudConnectionString = provider.GetSecretOrEnvWithDefault(ctx,
		"storage-connection-string", "STORAGE_CLOUDCONNECTIONSTRING", cfg.Storage.CloudConnectionString)

	if cfg.SMTP.Enabled {
		cfg.SMTP.Password = provider.GetSecretOrEnvWithDefault(ctx, "smtp-password", "SMTP_PASSWORD", cfg.SMTP.Password)
	}

	if cfg.ERP.Enabled {
		cfg.ERP.URL = provider.GetSecretOrEnvWithDefault(ctx, "ERP-URL", "ERP_URL", cfg.ERP.URL)
		cfg.ERP.User = provider.GetSecretOrEnvWithDefault(ctx, "ERP-USERNAME", "ERP_USER", cfg.ERP.User)
		cfg.ERP.Password = provider.GetSecretOrEnvWithDefault(ctx, "ERP-PASSWORD", "ERP_PASSWORD", cfg.ERP.Password)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Salesflow API")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "salesflow")
	v.SetDefault("database.user", "salesflow_user")
	v.SetDefault("database.password", "salesflow_password")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 300)
	v.SetDefault("database.connectTimeout", 60)

	v.SetDefault("auth.apiKeyActorName", "Web intake")

	v.SetDefault("secrets.source", "auto")
	v.SetDefault("secrets.cacheEnabled", true)
	v.SetDefault("secrets.cacheTTL", 300)

	v.SetDefault("storage.mode", "local")
	v.SetDefault("storage.localBasePath", "./storage")
	v.SetDefault("storage.cloudContainer", "invoices")
	v.SetDefault("storage.maxUploadSizeMB", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.requestTimeout", 60)

	v.SetDefault("cors.allowedOrigins", []string{})
	v.SetDefault("cors.allowedMethods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowedHeaders", []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"})
	v.SetDefault("cors.exposedHeaders", []string{"Location", "X-Request-ID"})
	v.SetDefault("cors.allowCredentials", true)
	v.SetDefault("cors.maxAge", 300)

	v.SetDefault("security.enableHSTS", false)
	v.SetDefault("security.hstsMaxAge", 31536000)
	v.SetDefault("security.hstsIncludeSubdomains", true)
	v.SetDefault("security.hstsPreload", false)
	v.SetDefault("security.contentSecurityPolicy", "default-src 'self'")
	v.SetDefault("security.frameOptions", "DENY")
	v.SetDefault("security.contentTypeNosniff", true)
	v.SetDefault("security.xssProtection", "1; mode=block")
	v.SetDefault("security.referrerPolicy", "strict-origin-when-cross-origin")
	v.SetDefault("security.permissionsPolicy", "geolocation=(), microphone=(), camera=()")

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.requestsPerMinuteAuth", 120)
	v.SetDefault("rateLimit.burstSize", 10)
	v.SetDefault("rateLimit.whitelistIPs", []string{"127.0.0.1", "::1"})
	v.SetDefault("rateLimit.whitelistPaths", []string{"/health", "/health/db"})

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.fromName", "Billing")
	v.SetDefault("smtp.timeout", 30)

	v.SetDefault("erp.enabled", false)
	v.SetDefault("erp.stagingTable", "dbo.InvoiceRequests")
	v.SetDefault("erp.maxOpenConns", 5)
	v.SetDefault("erp.maxIdleConns", 1)
	v.SetDefault("erp.connMaxLifetime", 300)
	v.SetDefault("erp.queryTimeout", 30)
	v.SetDefault("erp.connectTimeout", 30)

	v.SetDefault("pipeline.defaultProbability", 20)
	v.SetDefault("pipeline.dealNamePrefixes", []string{"فرصة - ", "فرصة: ", "Opportunity - ", "Deal - "})
	v.SetDefault("pipeline.allowDeleteConvertedLeads", true)
	v.SetDefault("pipeline.leadRediscovery", LeadRediscoveryNote)
}
