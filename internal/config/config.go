package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	BotToken   string
	BotHost    string
	BotHook    string
	ListenAddr string
	BotDebug   bool

	RedisURL    string
	DatabaseURL string

	AdminPass string

	UserTimeout          time.Duration
	MaintainInterval     time.Duration
	StaleProposalTimeout time.Duration

	MessagesDir string
	Workers     int
}

// WebhookURL is the public address Telegram posts updates to. Empty means long polling.
func (c *AppConfig) WebhookURL() string {
	if c.BotHost == "" {
		return ""
	}
	return "https://" + c.BotHost + c.BotHook
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BotHook:          "/hook",
		ListenAddr:       ":8080",
		UserTimeout:      30 * 24 * time.Hour,
		MaintainInterval: time.Minute,
		Workers:          10,
	}

	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	cfg.BotHost = strings.TrimSuffix(strings.TrimSpace(os.Getenv("BOT_HOST")), "/")
	if v := strings.TrimSpace(os.Getenv("BOT_HOOK")); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.BotHook = v
	}
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_DEBUG")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BotDebug = b
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AdminPass = os.Getenv("ADMIN_PASS")
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("USER_TIMEOUT")); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("USER_TIMEOUT must be a positive number of days: %q", v)
		}
		cfg.UserTimeout = time.Duration(days) * 24 * time.Hour
	}
	var err error
	if cfg.MaintainInterval, err = durationEnv("MAINTAIN_INTERVAL", cfg.MaintainInterval); err != nil {
		return nil, err
	}
	if cfg.StaleProposalTimeout, err = durationEnv("STALE_PROPOSAL_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}

	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	return cfg, nil
}

// durationEnv accepts Go durations ("90s", "1h") and a bare "0".
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration: %q", key, v)
	}
	return d, nil
}
