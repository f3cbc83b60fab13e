package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the SAR governance service
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Elasticsearch ElasticsearchConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	S3            S3Config
	Encryption    EncryptionConfig
	Auth          AuthConfig
	Logging       LoggingConfig
	Detection     DetectionConfig
	Governance    GovernanceConfig
	Tuner         TunerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DefaultAnalyst  string        `mapstructure:"default_analyst"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string. An explicit URL wins.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// StorageConfig selects the authoritative store
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | memory
	// SeedFile is a JSON array of customer records loaded at startup
	SeedFile string `mapstructure:"seed_file"`
}

// ElasticsearchConfig holds Elasticsearch configuration. Empty addresses
// disable indexing and search.
type ElasticsearchConfig struct {
	Addresses       []string `mapstructure:"addresses"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AuditIndex      string   `mapstructure:"audit_index"`
	SubmissionIndex string   `mapstructure:"submission_index"`
}

// Enabled reports whether a cluster is configured
func (c ElasticsearchConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

// RedisConfig holds Redis configuration for the customer profile cache
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Brokers          []string `mapstructure:"brokers"`
	ConsumerGroup    string   `mapstructure:"consumer_group"`
	AlertTopic       string   `mapstructure:"alert_topic"`
	CaseEventsTopic  string   `mapstructure:"case_events_topic"`
	EnableIdempotent bool     `mapstructure:"enable_idempotent"`
}

// S3Config holds AWS S3 configuration for the submission archive
type S3Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Region        string `mapstructure:"region"`
	ArchiveBucket string `mapstructure:"archive_bucket"`
	Endpoint      string `mapstructure:"endpoint"` // For local testing with MinIO
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
}

// EncryptionConfig holds the archive keys and the ledger signing secret
type EncryptionConfig struct {
	EncryptionKeysBase64 []string `mapstructure:"keys"`
	CurrentKeyVersion    int      `mapstructure:"current_key_version"`
	AuditHMACSecret      string   `mapstructure:"audit_hmac_secret"`
}

// AuthConfig holds authentication settings. An empty key path disables JWT.
type AuthConfig struct {
	JWTPublicKeyPath string `mapstructure:"jwt_public_key_path"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
	AnalystClaim     string `mapstructure:"analyst_claim"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DetectionConfig holds risk scoring settings
type DetectionConfig struct {
	VelocityThreshold           int      `mapstructure:"velocity_threshold"`
	NetworkMinTransactions      int      `mapstructure:"network_min_transactions"`
	NetworkMaxDistinctIPs       int      `mapstructure:"network_max_distinct_ips"`
	MicroFragmentationCustomers []string `mapstructure:"micro_fragmentation_customers"`
	ScorePolicy                 string   `mapstructure:"score_policy"` // computed | alert_floor
	ScoreFloor                  int      `mapstructure:"score_floor"`
}

// GovernanceConfig holds submission settings
type GovernanceConfig struct {
	SubmissionPrefix string `mapstructure:"submission_prefix"`
}

// TunerConfig holds adaptive threshold settings
type TunerConfig struct {
	Window           int  `mapstructure:"window"`
	MinFeedback      int  `mapstructure:"min_feedback"`
	RecomputeOnStart bool `mapstructure:"recompute_on_start"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. SAR_DATABASE_HOST
	v.SetEnvPrefix("SAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	switch c.Detection.ScorePolicy {
	case "computed", "alert_floor":
	default:
		return fmt.Errorf("invalid detection.score_policy %q", c.Detection.ScorePolicy)
	}
	if c.Governance.SubmissionPrefix == "" {
		return fmt.Errorf("governance.submission_prefix is required")
	}
	if c.Tuner.Window <= 0 || c.Tuner.MinFeedback <= 0 {
		return fmt.Errorf("tuner.window and tuner.min_feedback must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.default_analyst", "analyst@bank.com")

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sar_governance")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Storage
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.seed_file", "")

	// Elasticsearch
	v.SetDefault("elasticsearch.addresses", []string{})
	v.SetDefault("elasticsearch.username", "elastic")
	v.SetDefault("elasticsearch.password", "changeme")
	v.SetDefault("elasticsearch.audit_index", "sar-audit-log")
	v.SetDefault("elasticsearch.submission_index", "sar-submissions")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 3)
	v.SetDefault("redis.default_ttl", "15m")

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "sar-governance-service")
	v.SetDefault("kafka.alert_topic", "banking.compliance.alerts")
	v.SetDefault("kafka.case_events_topic", "banking.compliance.case-events")
	v.SetDefault("kafka.enable_idempotent", true)

	// S3
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.archive_bucket", "banking-sar-archive")

	// Encryption
	v.SetDefault("encryption.current_key_version", 1)

	// Auth
	v.SetDefault("auth.jwt_public_key_path", "")
	v.SetDefault("auth.jwt_issuer", "banking-auth-service")
	v.SetDefault("auth.analyst_claim", "email")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Detection
	v.SetDefault("detection.velocity_threshold", 15)
	v.SetDefault("detection.network_min_transactions", 10)
	v.SetDefault("detection.network_max_distinct_ips", 3)
	v.SetDefault("detection.micro_fragmentation_customers", []string{"CUST-4455"})
	v.SetDefault("detection.score_policy", "computed")
	v.SetDefault("detection.score_floor", 0)

	// Governance
	v.SetDefault("governance.submission_prefix", "SAR-")

	// Tuner
	v.SetDefault("tuner.window", 10)
	v.SetDefault("tuner.min_feedback", 3)
	v.SetDefault("tuner.recompute_on_start", true)
}
