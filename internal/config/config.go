package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/udpkv/internal/logging"
	"github.com/danmuck/udpkv/internal/store"
)

const (
	DefaultPort        = 31337
	DefaultCapacity    = 1024
	DefaultMaxDatagram = 1024
	DefaultRecentDrops = 64
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the kvd server configuration file shape.
type Config struct {
	Name         string      `toml:"name"`
	Host         string      `toml:"host"`
	Port         int         `toml:"port"`
	Capacity     int         `toml:"capacity"`
	MaxDatagram  int         `toml:"max_datagram"`
	ErrorReplies bool        `toml:"error_replies"`
	RecentDrops  int         `toml:"recent_drops"`
	// LogLevel empty keeps the level chosen by the environment.
	LogLevel     string      `toml:"log_level"`
	Admin        AdminConfig `toml:"admin"`
}

// AdminConfig configures the optional admin HTTP listener. An empty Addr disables it.
type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func Default() Config {
	return Config{
		Name:         "kvd",
		Host:         "",
		Port:         DefaultPort,
		Capacity:     DefaultCapacity,
		MaxDatagram:  DefaultMaxDatagram,
		ErrorReplies: false,
		RecentDrops:  DefaultRecentDrops,
		LogLevel:     "",
		Admin: AdminConfig{
			Addr:        "",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// fileConfig mirrors Config so that absent keys keep their defaults.
type fileConfig struct {
	Name         string `toml:"name"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Capacity     int    `toml:"capacity"`
	MaxDatagram  int    `toml:"max_datagram"`
	ErrorReplies bool   `toml:"error_replies"`
	RecentDrops  int    `toml:"recent_drops"`
	LogLevel     string `toml:"log_level"`
	Admin        struct {
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
}

// Load reads path over Default() and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("max_datagram") {
		cfg.MaxDatagram = raw.MaxDatagram
	}
	if meta.IsDefined("error_replies") {
		cfg.ErrorReplies = raw.ErrorReplies
	}
	if meta.IsDefined("recent_drops") {
		cfg.RecentDrops = raw.RecentDrops
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.Capacity <= 0 || cfg.Capacity > store.MaxCapacity {
		return fmt.Errorf("%w: capacity %d (want 1..%d)", ErrInvalidConfig, cfg.Capacity, store.MaxCapacity)
	}
	// a full WRITE is 13 bytes
	if cfg.MaxDatagram < 13 || cfg.MaxDatagram > 65535 {
		return fmt.Errorf("%w: max_datagram %d (want 13..65535)", ErrInvalidConfig, cfg.MaxDatagram)
	}
	if cfg.RecentDrops < 0 {
		return fmt.Errorf("%w: recent_drops must not be negative", ErrInvalidConfig)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); cfg.LogLevel != "" && !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, cfg.LogLevel)
	}
	if addr := strings.TrimSpace(cfg.Admin.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: admin addr %q: %v", ErrInvalidConfig, addr, err)
		}
	}
	return nil
}

// ListenAddr is the UDP bind address built from Host and Port.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
