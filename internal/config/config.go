package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/privscan/internal/admission"
	"github.com/nao1215/privscan/internal/lists"
	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/queue"
	"github.com/nao1215/privscan/internal/quota"
	"github.com/nao1215/privscan/internal/scanner"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "privscan"

	// DefaultListenAddr is where the HTTP API listens.
	DefaultListenAddr = ":8080"

	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server
	// and the worker pool.
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultMetricsAddr is where a standalone worker serves /metrics.
	// The API server always serves /metrics on its own listener.
	DefaultMetricsAddr = ":9090"

	// DefaultLogLevel is the level of server and worker logs.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the handler used for server and worker logs.
	DefaultLogFormat = "text"
)

// Quota backends.
const (
	// QuotaBackendAuto picks postgres when a database URL is set and
	// sqlite otherwise.
	QuotaBackendAuto     = ""
	QuotaBackendMemory   = "memory"
	QuotaBackendSQLite   = "sqlite"
	QuotaBackendPostgres = "postgres"
)

// Config holds every setting of the server, the worker and the CLI.
// It is populated from defaults, an optional YAML file and the environment,
// in that order.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admission AdmissionConfig `yaml:"admission"`
	Quota     QuotaConfig     `yaml:"quota"`
	Queue     QueueConfig     `yaml:"queue"`
	Lists     ListsConfig     `yaml:"lists"`
	Storage   StorageConfig   `yaml:"storage"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AdminToken guards /admin endpoints. Empty disables them.
	AdminToken string `yaml:"admin_token"`

	// APIKeys are privileged keys sent in X-API-Key. Holders bypass the
	// daily quota.
	APIKeys []string `yaml:"api_keys"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// AdmissionConfig holds the rate limit policies.
type AdmissionConfig struct {
	Scan   admission.Policy `yaml:"scan"`
	Report admission.Policy `yaml:"report"`

	// ComplexDomains are hosts whose scans always count as complex.
	ComplexDomains []string `yaml:"complex_domains"`

	// TrustedProxies are the addresses and CIDR ranges of reverse proxies
	// whose X-Forwarded-For and X-Real-IP headers identify the client.
	// Requests from any other peer are identified by the socket address.
	TrustedProxies []string `yaml:"trusted_proxies"`

	LoadThreshold int           `yaml:"load_threshold"`
	LoadTTL       time.Duration `yaml:"load_ttl"`
}

// Proxies parses TrustedProxies.
func (a AdmissionConfig) Proxies() (admission.TrustedProxies, error) {
	return admission.ParseTrustedProxies(a.TrustedProxies)
}

// QuotaConfig configures the daily scan quota.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	Backend    string `yaml:"backend"`
}

// QueueConfig configures the job broker and the worker pool.
type QueueConfig struct {
	// RedisURL selects the Redis broker. Empty falls back to an in-process
	// broker, which only works when server and worker share a process.
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
	Name      string `yaml:"name"`
	DeadName  string `yaml:"dead_name"`

	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	// VisibilityTimeout is how long a Redis claim may stay unsettled before
	// the job is handed out again. It must exceed JobTimeout.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	Attempts int           `yaml:"attempts"`
	Backoff  model.Backoff `yaml:"backoff"`
}

// JobOptions returns the delivery options attached to enqueued scans.
func (q QueueConfig) JobOptions() model.JobOptions {
	return model.JobOptions{Attempts: q.Attempts, Backoff: q.Backoff}
}

// ListsConfig configures where tracker lists come from.
type ListsConfig struct {
	TTL time.Duration `yaml:"ttl"`

	// File is a JSON lists document on disk. When empty and a broker
	// address is set, lists are read from RedisKey.
	File     string `yaml:"file"`
	RedisKey string `yaml:"redis_key"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// DataDir holds the SQLite database.
	DataDir string `yaml:"data_dir"`

	// DatabaseURL is a PostgreSQL DSN used for quota records.
	DatabaseURL string `yaml:"database_url"`
}

// ScannerConfig configures the reference web scanner.
type ScannerConfig struct {
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBodySize int64         `yaml:"max_body_size"`
}

// LogConfig configures server and worker logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	jobOpts := queue.DefaultJobOptions()
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
			MetricsAddr:     DefaultMetricsAddr,
		},
		Admission: AdmissionConfig{
			Scan:          admission.ScanPolicy(),
			Report:        admission.ReportPolicy(),
			LoadThreshold: admission.DefaultLoadThreshold,
			LoadTTL:       admission.DefaultLoadTTL,
		},
		Quota: QuotaConfig{
			DailyLimit: quota.DefaultLimit,
			Backend:    QuotaBackendAuto,
		},
		Queue: QueueConfig{
			KeyPrefix:    queue.DefaultKeyPrefix,
			Name:         queue.DefaultQueue,
			DeadName:     queue.DefaultDeadQueue,
			Concurrency:  queue.DefaultConcurrency,
			PollInterval: queue.DefaultPollInterval,
			JobTimeout:   2 * scanner.DefaultTimeout,
			Attempts:     jobOpts.Attempts,
			Backoff:      jobOpts.Backoff,

			VisibilityTimeout: queue.DefaultVisibilityTimeout,
		},
		Lists: ListsConfig{
			TTL:      lists.DefaultTTL,
			RedisKey: lists.DefaultRedisKey,
		},
		Storage: StorageConfig{
			DataDir: XDGDataDir(),
		},
		Scanner: ScannerConfig{
			UserAgent:   scanner.DefaultUserAgent,
			Timeout:     scanner.DefaultTimeout,
			MaxBodySize: scanner.DefaultMaxBodySize,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// XDGDataDir returns the XDG data directory for privscan.
// This is where the SQLite database is stored.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for privscan.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// QuotaBackend resolves QuotaBackendAuto to a concrete backend.
func (c *Config) QuotaBackend() string {
	if c.Quota.Backend != QuotaBackendAuto {
		return c.Quota.Backend
	}
	if c.Storage.DatabaseURL != "" {
		return QuotaBackendPostgres
	}
	return QuotaBackendSQLite
}

// IsAPIKey reports whether key is one of the configured privileged keys.
func (c *Config) IsAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.Server.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks whether the configuration is usable.
// It returns the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Server.ListenAddr == "":
		return ErrEmptyListenAddr
	case c.Server.ShutdownTimeout <= 0:
		return ErrInvalidShutdownTimeout
	}
	if err := c.Admission.Scan.Validate(); err != nil {
		return err
	}
	if err := c.Admission.Report.Validate(); err != nil {
		return err
	}
	if c.Admission.LoadThreshold < 1 {
		return ErrInvalidLoadThreshold
	}
	if _, err := c.Admission.Proxies(); err != nil {
		return err
	}
	if c.Quota.DailyLimit < 1 {
		return ErrInvalidQuotaLimit
	}
	switch c.Quota.Backend {
	case QuotaBackendAuto, QuotaBackendMemory, QuotaBackendSQLite:
	case QuotaBackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return ErrUnknownQuotaBackend
	}
	switch {
	case c.Queue.Name == "" || c.Queue.DeadName == "":
		return ErrEmptyQueueName
	case c.Queue.Name == c.Queue.DeadName:
		return ErrSameQueueNames
	case c.Queue.Concurrency < 1:
		return ErrInvalidConcurrency
	case c.Queue.PollInterval <= 0:
		return ErrInvalidPollInterval
	case c.Queue.JobTimeout < 0:
		return ErrInvalidJobTimeout
	case c.Queue.VisibilityTimeout <= 0 || c.Queue.VisibilityTimeout <= c.Queue.JobTimeout:
		return ErrInvalidVisibilityTimeout
	case c.Queue.Attempts < 1:
		return ErrInvalidAttempts
	case c.Lists.TTL <= 0:
		return ErrInvalidListsTTL
	case c.Scanner.Timeout <= 0:
		return ErrInvalidTimeout
	case c.Scanner.MaxBodySize < 0:
		return ErrInvalidMaxBodySize
	}
	return nil
}
