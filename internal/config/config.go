package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type BotConfig struct {
	DiscordToken    string
	GuildID         string
	AlertChannelID  string
	DriftChannelID  string
	AdminUserIDs    []string
	DatabaseURL     string
	MigrateOnStart  bool
	HTTPAddr        string
	AdminAPIToken   string
	RunDrift        bool
	DriftEvery      time.Duration
	StatusEvery     time.Duration
	OutboxPollEvery time.Duration
	AuditLogFile    string
	KafkaBrokers    []string
	KafkaAuditTopic string
	RedisURL        string
	LogLevel        slog.Level
}

type WorkerConfig struct {
	DatabaseURL string
	DriftEvery  time.Duration
	RedisURL    string
	RunOnce     bool
	LogLevel    slog.Level
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
	QueuePath  string
}

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" by default)
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadBotFromEnv() (BotConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKBOT_HTTP_ADDR", ":8080")
	}

	cfg := BotConfig{
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:         strings.TrimSpace(os.Getenv("DISCORD_GUILD_ID")),
		AlertChannelID:  strings.TrimSpace(os.Getenv("ALERT_CHANNEL_ID")),
		DriftChannelID:  strings.TrimSpace(os.Getenv("DRIFT_CHANNEL_ID")),
		AdminUserIDs:    envList("ADMIN_USER_IDS"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrateOnStart:  envBoolDefault("STOCKBOT_MIGRATE", true),
		HTTPAddr:        addr,
		AdminAPIToken:   strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		RunDrift:        envBoolDefault("STOCKBOT_RUN_DRIFT", true),
		DriftEvery:      envDurationDefault("DRIFT_EVERY", time.Minute),
		StatusEvery:     envDurationDefault("STATUS_EVERY", 10*time.Second),
		OutboxPollEvery: envDurationDefault("OUTBOX_POLL_EVERY", time.Second),
		AuditLogFile:    envDefault("AUDIT_LOG_FILE", "transactions.txt"),
		KafkaBrokers:    envList("KAFKA_BROKERS"),
		KafkaAuditTopic: envDefault("KAFKA_AUDIT_TOPIC", "stockbot.audit"),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		LogLevel:        envLogLevel(),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if err := positive("DRIFT_EVERY", cfg.DriftEvery); err != nil {
		return cfg, err
	}
	if err := positive("STATUS_EVERY", cfg.StatusEvery); err != nil {
		return cfg, err
	}
	if err := positive("OUTBOX_POLL_EVERY", cfg.OutboxPollEvery); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DriftEvery:  envDurationDefault("DRIFT_EVERY", time.Minute),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		RunOnce:     envBoolDefault("STOCKBOT_WORKER_RUN_ONCE", false),
		LogLevel:    envLogLevel(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if err := positive("DRIFT_EVERY", cfg.DriftEvery); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	queue := strings.TrimSpace(os.Getenv("STOCKCTL_QUEUE_FILE"))
	if queue == "" {
		if home, err := os.UserHomeDir(); err == nil {
			queue = filepath.Join(home, ".stockctl", "queue.json")
		} else {
			queue = filepath.Join(".stockctl", "queue.json")
		}
	}
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STOCKCTL_API_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		QueuePath:  queue,
	}
}

func positive(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envDefault("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
