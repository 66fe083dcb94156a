package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eeelify/Z-inspection-sub003/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Database.Driver = config.DriverMemory
	cfg.Database.URL = ""
	cfg.Hermes.URL = ""
	cfg.Redis.URL = ""
	cfg.Catalog.URL = ""
	cfg.Server.Port = 0
	cfg.Server.MetricsPort = 0
	cfg.Reports.OutputDir = t.TempDir()
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRunReturnsWiringErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "bogus" }, "invalid config"},
		{"bad redis url", func(c *config.Config) { c.Redis.URL = "ftp://nowhere" }, "connect to redis"},
		{"bad heuristics", func(c *config.Config) { c.Scoring.NegationWindow = -1 }, "invalid scoring heuristics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			err := run(context.Background(), cfg, discardLogger())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	cfg := testConfig(t)
	s, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	s.Close()

	cfg.Database.Driver = "bogus"
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}
