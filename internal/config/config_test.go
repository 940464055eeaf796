package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotHook != "/hook" || cfg.ListenAddr != ":8080" || cfg.Workers != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UserTimeout != 30*24*time.Hour || cfg.MaintainInterval != time.Minute || cfg.StaleProposalTimeout != 0 {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.WebhookURL() != "" {
		t.Fatalf("expected polling mode, got %q", cfg.WebhookURL())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("BOT_HOST", "duel.example.org/")
	t.Setenv("BOT_HOOK", "tg")
	t.Setenv("USER_TIMEOUT", "7")
	t.Setenv("MAINTAIN_INTERVAL", "0")
	t.Setenv("STALE_PROPOSAL_TIMEOUT", "48h")
	t.Setenv("WORKERS", "4")
	t.Setenv("BOT_DEBUG", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.WebhookURL(); got != "https://duel.example.org/tg" {
		t.Fatalf("WebhookURL = %q", got)
	}
	if cfg.UserTimeout != 7*24*time.Hour || cfg.MaintainInterval != 0 || cfg.StaleProposalTimeout != 48*time.Hour {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.Workers != 4 || !cfg.BotDebug {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"BOT_TOKEN": ""}},
		{"bad user timeout", map[string]string{"BOT_TOKEN": "x", "USER_TIMEOUT": "soon"}},
		{"negative interval", map[string]string{"BOT_TOKEN": "x", "MAINTAIN_INTERVAL": "-1m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
