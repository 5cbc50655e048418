package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"judgeline/internal/common/cache"
	"judgeline/internal/common/mq"
	"judgeline/internal/common/storage"
	"judgeline/internal/judge/sandbox"
	"judgeline/internal/judge/service"
	"judgeline/internal/judge/workspace"
	"judgeline/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 24 * time.Hour
	defaultStatusTimeout   = 2 * time.Second
	defaultSourceTimeout   = 10 * time.Second
	defaultClaimTTL        = 2 * time.Minute
	defaultDoneTTL         = 7 * 24 * time.Hour
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TopicsConfig names every topic the worker reads or writes.
type TopicsConfig struct {
	Submission  string `yaml:"submission"`
	Retry       string `yaml:"retry"`
	DeadLetter  string `yaml:"deadLetter"`
	Result      string `yaml:"result"`
	Leaderboard string `yaml:"leaderboard"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string       `yaml:"brokers"`
	ClientID      string         `yaml:"clientID"`
	MinBytes      int            `yaml:"minBytes"`
	MaxBytes      int            `yaml:"maxBytes"`
	MaxWait       time.Duration  `yaml:"maxWait"`
	BatchSize     int            `yaml:"batchSize"`
	BatchTimeout  time.Duration  `yaml:"batchTimeout"`
	DialTimeout   time.Duration  `yaml:"dialTimeout"`
	RequiredAcks  int            `yaml:"requiredAcks"`
	Compression   string         `yaml:"compression"`
	Topics        TopicsConfig   `yaml:"topics"`
	ConsumerGroup string         `yaml:"consumerGroup"`
	MaxRetries    int            `yaml:"maxRetries"`
	RetryDelay    time.Duration  `yaml:"retryDelay"`
	MessageTTL    time.Duration  `yaml:"messageTTL"`
	TopicWeights  map[string]int `yaml:"topicWeights"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize int `yaml:"poolSize"`
}

// SourceConfig holds source download settings.
type SourceConfig struct {
	Bucket   string        `yaml:"bucket"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxBytes"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// DedupeConfig holds redelivery guard settings.
type DedupeConfig struct {
	ClaimTTL time.Duration `yaml:"claimTTL"`
	DoneTTL  time.Duration `yaml:"doneTTL"`
}

// LanguagesConfig points at the language registry file. Built-in
// definitions are used when File is empty.
type LanguagesConfig struct {
	File string `yaml:"file"`
}

// LeaderboardConfig controls the in-process leaderboard consumer.
type LeaderboardConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ConsumerGroup string `yaml:"consumerGroup"`
}

// AppConfig holds judge-worker config.
type AppConfig struct {
	Server      ServerConfig         `yaml:"server"`
	Logger      logger.Config        `yaml:"logger"`
	Kafka       KafkaConfig          `yaml:"kafka"`
	Redis       cache.RedisConfig    `yaml:"redis"`
	MinIO       storage.MinIOConfig  `yaml:"minio"`
	Worker      WorkerConfig         `yaml:"worker"`
	Workspace   workspace.Config     `yaml:"workspace"`
	Docker      sandbox.DockerConfig `yaml:"docker"`
	Retry       service.RetryPolicy  `yaml:"retry"`
	Status      StatusConfig         `yaml:"status"`
	Dedupe      DedupeConfig         `yaml:"dedupe"`
	Source      SourceConfig         `yaml:"source"`
	Languages   LanguagesConfig      `yaml:"languages"`
	Leaderboard LeaderboardConfig    `yaml:"leaderboard"`
}

// loadYAML reads path, expands ${VAR} references from the environment and
// decodes the result into out. A .env file next to the working directory is
// loaded first when present.
func loadYAML(path string, out interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if cfg.Kafka.Topics.Submission == "" {
		return fmt.Errorf("kafka submission topic is required")
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
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	topics := &cfg.Kafka.Topics
	if topics.Retry == "" {
		topics.Retry = topics.Submission + ".retry"
	}
	if topics.DeadLetter == "" {
		topics.DeadLetter = topics.Submission + ".dlq"
	}
	if topics.Result == "" {
		topics.Result = "judge.results"
	}
	if topics.Leaderboard == "" {
		topics.Leaderboard = "leaderboard.updates"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "judge-worker"
	}
	if len(cfg.Kafka.TopicWeights) == 0 {
		cfg.Kafka.TopicWeights = defaultTopicWeights(topics.Submission, topics.Retry)
	}
	if cfg.Leaderboard.ConsumerGroup == "" {
		cfg.Leaderboard.ConsumerGroup = "leaderboard"
	}
	if cfg.Source.Bucket == "" {
		cfg.Source.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = defaultSourceTimeout
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = defaultStatusTimeout
	}
	if cfg.Dedupe.ClaimTTL == 0 {
		cfg.Dedupe.ClaimTTL = defaultClaimTTL
	}
	if cfg.Dedupe.DoneTTL == 0 {
		cfg.Dedupe.DoneTTL = defaultDoneTTL
	}
	return nil
}

// defaultTopicWeights favours fresh submissions over retries so a burst of
// failing jobs cannot starve new work.
func defaultTopicWeights(submission, retry string) map[string]int {
	return map[string]int{
		submission: 4,
		retry:      1,
	}
}

// weightedTopics returns the submission and retry topics with their fetch
// weights. Unknown or non-positive weights fall back to 1.
func (k KafkaConfig) weightedTopics() []mq.WeightedTopic {
	out := make([]mq.WeightedTopic, 0, 2)
	for _, topic := range []string{k.Topics.Submission, k.Topics.Retry} {
		weight := k.TopicWeights[topic]
		if weight <= 0 {
			weight = 1
		}
		out = append(out, mq.WeightedTopic{Topic: topic, Weight: weight})
	}
	return out
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
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
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
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
