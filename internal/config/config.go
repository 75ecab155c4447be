package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // multipart body cap
	UploadRate     int           `yaml:"upload_rate"`      // requests per window per client on upload routes, 0 disables
	UploadWindow   time.Duration `yaml:"upload_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // message cache ttl
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

type QueueConfig struct {
	URL          string        `yaml:"url"`
	ProcessQueue string        `yaml:"process_queue"`
	RetryQueue   string        `yaml:"retry_queue"`
	DialRetries  int           `yaml:"dial_retries"`
	DialDelay    time.Duration `yaml:"dial_delay"`
}

type IngestConfig struct {
	UploadConcurrency int           `yaml:"upload_concurrency"` // ad hoc multi-file batch size
	BulkWorkers       int           `yaml:"bulk_workers"`       // archive/backlog/retry-all workers
	MaxArchiveBytes   int64         `yaml:"max_archive_bytes"`
	MaxEntryBytes     int64         `yaml:"max_entry_bytes"`
	AudioExts         []string      `yaml:"audio_exts"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	WorkerToken  string        `yaml:"worker_token"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
	CookieDomain string        `yaml:"cookie_domain"`
}

type SchedulerConfig struct {
	BacklogInterval time.Duration `yaml:"backlog_interval"` // 0 disables the sweeper
	BacklogProjects []string      `yaml:"backlog_projects"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates it.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 2 * time.Minute
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		cfg.HTTP.MaxUploadBytes = 512 << 20
	}
	if cfg.HTTP.UploadWindow <= 0 {
		cfg.HTTP.UploadWindow = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Queue.ProcessQueue == "" {
		cfg.Queue.ProcessQueue = "message_processing"
	}
	if cfg.Queue.RetryQueue == "" {
		cfg.Queue.RetryQueue = "message_processing_retry"
	}
	if cfg.Queue.DialRetries <= 0 {
		cfg.Queue.DialRetries = 10
	}
	if cfg.Queue.DialDelay <= 0 {
		cfg.Queue.DialDelay = 5 * time.Second
	}
	if cfg.Ingest.UploadConcurrency <= 0 {
		cfg.Ingest.UploadConcurrency = 5
	}
	if cfg.Ingest.BulkWorkers <= 0 {
		cfg.Ingest.BulkWorkers = 5
	}
	if cfg.Ingest.MaxArchiveBytes <= 0 {
		cfg.Ingest.MaxArchiveBytes = 500 << 20
	}
	if cfg.Ingest.MaxEntryBytes <= 0 {
		cfg.Ingest.MaxEntryBytes = 50 << 20
	}
	if len(cfg.Ingest.AudioExts) == 0 {
		cfg.Ingest.AudioExts = []string{".mp3"}
	}
	if cfg.Ingest.LockTTL <= 0 {
		cfg.Ingest.LockTTL = 10 * time.Minute
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = 30 * time.Minute
	}
}

func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" {
		return errors.New("storage.endpoint and storage.bucket are required")
	}
	if cfg.Queue.URL == "" {
		return errors.New("queue.url is required")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Runtime.Dev {
		return errors.New("auth.jwt_secret is required outside dev mode")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
