package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/udpkv/internal/config"
)

func parse(t *testing.T, args ...string) options {
	t.Helper()
	fs := flag.NewFlagSet("kvd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts, err := parseFlagSet(fs, args)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return opts
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(parse(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != config.DefaultPort || cfg.Capacity != config.DefaultCapacity {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvd.toml")
	content := `
port = 4000
capacity = 32
error_replies = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(parse(t, "-config", path, "-capacity", "8", "-log-level", "debug"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("unset flag must not override file port: %d", cfg.Port)
	}
	if cfg.Capacity != 8 || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if !cfg.ErrorReplies {
		t.Fatalf("file error_replies lost")
	}

	cfg, err = loadConfig(parse(t, "-config", path, "-error-replies=false", "-admin", "127.0.0.1:7070"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ErrorReplies || cfg.Admin.Addr != "127.0.0.1:7070" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalidFlag(t *testing.T) {
	_, err := loadConfig(parse(t, "-capacity", "0"))
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
