package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	t.Setenv("JUDGE_REDIS_ADDR", "127.0.0.1:6390")
	path := writeConfig(t, `
redis:
  addr: ${JUDGE_REDIS_ADDR}
kafka:
  brokers: ["127.0.0.1:9092"]
  compression: zstd
  topics:
    submission: judge.submissions
worker:
  poolSize: 4
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "127.0.0.1:6390" {
		t.Fatalf("env expansion failed, got %q", cfg.Redis.Addr)
	}
	if cfg.Redis.PoolSize == 0 || cfg.Redis.DialTimeout == 0 {
		t.Fatalf("redis defaults not applied: %+v", cfg.Redis)
	}
	topics := cfg.Kafka.Topics
	if topics.Retry != "judge.submissions.retry" || topics.DeadLetter != "judge.submissions.dlq" {
		t.Fatalf("unexpected derived topics: %+v", topics)
	}
	if topics.Result != "judge.results" || topics.Leaderboard != "leaderboard.updates" {
		t.Fatalf("unexpected event topics: %+v", topics)
	}
	if cfg.Status.TTL != defaultStatusTTL || cfg.Dedupe.ClaimTTL != defaultClaimTTL {
		t.Fatalf("ttl defaults not applied: %+v %+v", cfg.Status, cfg.Dedupe)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}

	weighted := cfg.Kafka.weightedTopics()
	if len(weighted) != 2 || weighted[0].Topic != "judge.submissions" || weighted[0].Weight <= weighted[1].Weight {
		t.Fatalf("submissions must outweigh retries: %+v", weighted)
	}
	if mqCfg := cfg.Kafka.toMQConfig(); mqCfg.Compression != kafka.Zstd {
		t.Fatalf("expected zstd compression, got %v", mqCfg.Compression)
	}
}

func TestLoadAppConfigRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing redis", "kafka:\n  brokers: [\"b:9092\"]\n  topics:\n    submission: s\n"},
		{"missing brokers", "redis:\n  addr: r:6379\nkafka:\n  topics:\n    submission: s\n"},
		{"missing submission topic", "redis:\n  addr: r:6379\nkafka:\n  brokers: [\"b:9092\"]\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()
	tests := map[string]kafka.Compression{
		"gzip":   kafka.Gzip,
		"SNAPPY": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"":       kafka.Compression(0),
		"bogus":  kafka.Compression(0),
	}
	for raw, want := range tests {
		if got := parseCompression(raw); got != want {
			t.Fatalf("parseCompression(%q) = %v, want %v", raw, got, want)
		}
	}
}
