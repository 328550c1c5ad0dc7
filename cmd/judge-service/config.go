package main

import (
	"fmt"
	"os"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	judgecache "codejudge/internal/judge/cache"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr         = "0.0.0.0:8085"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMetaTTL          = 5 * time.Minute
	defaultStatusTTL        = 24 * time.Hour
	defaultCooldown         = 20 * time.Second
	defaultClaimTTL         = 15 * time.Minute
	defaultRecoveryBatch    = 100
	defaultRecoveryInterval = time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	WatchInterval   time.Duration `yaml:"watchInterval"`
	WatchTimeout    time.Duration `yaml:"watchTimeout"`
}

// GRPCConfig holds the health server settings. An empty addr disables it.
type GRPCConfig struct {
	Addr          string        `yaml:"addr"`
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	IntakeTopic   string        `yaml:"intakeTopic"`
	FinalTopic    string        `yaml:"finalTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryTopic    string        `yaml:"retryTopic"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
}

// JudgeConfig holds pipeline settings.
type JudgeConfig struct {
	MaxConcurrentJudgings int           `yaml:"maxConcurrentJudgings"`
	QueueSize             int           `yaml:"queueSize"`
	EnqueueTimeout        time.Duration `yaml:"enqueueTimeout"`
	ClaimTTL              time.Duration `yaml:"claimTTL"`

	WorkRoot             string             `yaml:"workRoot"`
	DefaultTimeLimitMs   int64              `yaml:"defaultTimeLimitMs"`
	DefaultMemoryLimitKB int64              `yaml:"defaultMemoryLimitKb"`
	WallGraceMs          int64              `yaml:"wallGraceMs"`
	CompileLimits        spec.ResourceLimit `yaml:"compileLimits"`
	RunLimits            spec.ResourceLimit `yaml:"runLimits"`

	PersistAttempts   int           `yaml:"persistAttempts"`
	PersistBackoff    time.Duration `yaml:"persistBackoff"`
	PersistMaxBackoff time.Duration `yaml:"persistMaxBackoff"`
	RecoveryBatch     int           `yaml:"recoveryBatch"`
	RecoveryInterval  time.Duration `yaml:"recoveryInterval"`
	RecoveryIdle      time.Duration `yaml:"recoveryIdle"`

	RunSlotWait   time.Duration `yaml:"runSlotWait"`
	MaxCodeBytes  int           `yaml:"maxCodeBytes"`
	MetaTTL       time.Duration `yaml:"metaTTL"`
	StatusTTL     time.Duration `yaml:"statusTTL"`
	StatusTimeout time.Duration `yaml:"statusTimeout"`
}

// CooldownConfig holds the per-user submit window. Zero disables it.
type CooldownConfig struct {
	Window time.Duration `yaml:"window"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig           `yaml:"server"`
	GRPC      GRPCConfig             `yaml:"grpc"`
	Logger    logger.Config          `yaml:"logger"`
	Database  db.MySQLConfig         `yaml:"database"`
	Redis     cache.RedisConfig      `yaml:"redis"`
	MinIO     storage.MinIOConfig    `yaml:"minio"`
	Kafka     KafkaConfig            `yaml:"kafka"`
	Judge     JudgeConfig            `yaml:"judge"`
	Sandbox   engine.Config          `yaml:"sandbox"`
	Languages []profile.LanguageSpec `yaml:"languages"`
	DataCache judgecache.Config      `yaml:"dataCache"`
	Auth      middleware.AuthConfig  `yaml:"auth"`
	Cooldown  *CooldownConfig        `yaml:"cooldown"`
	Metrics   MetricsConfig          `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.GRPC.CheckInterval == 0 {
		cfg.GRPC.CheckInterval = time.Second
	}

	if cfg.Kafka.IntakeTopic == "" {
		cfg.Kafka.IntakeTopic = "judge.submissions"
	}
	if cfg.Kafka.FinalTopic == "" {
		cfg.Kafka.FinalTopic = "judge.status.final"
	}
	if cfg.Kafka.RetryTopic == "" {
		cfg.Kafka.RetryTopic = "judge.retry"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "judge-service"
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}

	j := &cfg.Judge
	if j.MaxConcurrentJudgings <= 0 {
		return fmt.Errorf("judge.maxConcurrentJudgings must be positive")
	}
	if j.QueueSize <= 0 {
		j.QueueSize = j.MaxConcurrentJudgings * 4
	}
	if j.ClaimTTL == 0 {
		j.ClaimTTL = defaultClaimTTL
	}
	if j.WorkRoot == "" {
		j.WorkRoot = os.TempDir()
	}
	if j.DefaultTimeLimitMs <= 0 {
		j.DefaultTimeLimitMs = 1000
	}
	if j.DefaultMemoryLimitKB <= 0 {
		j.DefaultMemoryLimitKB = 256 * 1024
	}
	if j.RecoveryBatch <= 0 {
		j.RecoveryBatch = defaultRecoveryBatch
	}
	if j.RecoveryInterval <= 0 {
		j.RecoveryInterval = defaultRecoveryInterval
	}
	if j.MetaTTL == 0 {
		j.MetaTTL = defaultMetaTTL
	}
	if j.StatusTTL == 0 {
		j.StatusTTL = defaultStatusTTL
	}

	if cfg.Cooldown == nil {
		cfg.Cooldown = &CooldownConfig{Window: defaultCooldown}
	}
	if cfg.DataCache.Bucket == "" {
		cfg.DataCache.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
	}
}

func (k KafkaConfig) poolRetry() service.PoolRetry {
	return service.PoolRetry{
		Topic:      k.RetryTopic,
		DeadLetter: k.DeadLetter,
		MaxRetry:   k.PoolRetryMax,
		BaseDelay:  k.PoolRetryBase,
		MaxDelay:   k.PoolRetryMaxD,
	}
}

func (j JudgeConfig) runnerConfig() runner.Config {
	return runner.Config{
		WorkRoot:             j.WorkRoot,
		CompileLimits:        j.CompileLimits,
		RunLimits:            j.RunLimits,
		DefaultTimeLimitMs:   j.DefaultTimeLimitMs,
		DefaultMemoryLimitKB: j.DefaultMemoryLimitKB,
		WallGraceMs:          j.WallGraceMs,
	}
}

func (j JudgeConfig) dispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Workers:        j.MaxConcurrentJudgings,
		QueueSize:      j.QueueSize,
		EnqueueTimeout: j.EnqueueTimeout,
	}
}

func (j JudgeConfig) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		PersistAttempts:   j.PersistAttempts,
		PersistBackoff:    j.PersistBackoff,
		PersistMaxBackoff: j.PersistMaxBackoff,
	}
}
