// Package config loads the server's configuration from the
// environment variables spec.md §6 mandates, optionally layered with
// an scfg file for settings the environment contract doesn't cover.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"git.sr.ht/~emersion/go-scfg"
)

// Config holds every tunable the core needs at startup.
type Config struct {
	// PuzzlePath is the directory holding the puzzle blobs. The SQL
	// store is not kept here; it is reached through DatabaseDSN.
	PuzzlePath string
	// Port is the listener port.
	Port int
	// Threads is the worker pool size.
	Threads int

	// The following have no environment-variable form; they are only
	// ever set via the optional scfg file, and fall back to defaults.
	DatabaseDSN        string
	JWKSURL            string
	HeartbeatInterval  time.Duration
	AcceptRatePerSec   float64
	AcceptBurst        int
	LogLevel           string
	LogFormat          string
}

func defaults() *Config {
	return &Config{
		PuzzlePath:        "./puzzles",
		Port:              5051,
		Threads:           32,
		DatabaseDSN:       "",
		JWKSURL:           "",
		HeartbeatInterval: 5 * time.Second,
		AcceptRatePerSec:  200,
		AcceptBurst:       50,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds a Config: defaults, then the scfg file (if path is
// non-empty and present), then environment variables. The file has no
// directive for the three knobs spec.md §6 documents (path, port,
// worker count); only the environment overrides their defaults.
func Load(scfgPath string) (*Config, error) {
	cfg := defaults()

	if scfgPath != "" {
		if err := applyScfgFile(cfg, scfgPath); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", scfgPath, err)
		}
	}

	if v := os.Getenv("PUZZLE_PATH"); v != "" {
		cfg.PuzzlePath = v
	}
	if v := os.Getenv("PUZZLE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUZZLE_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("PUZZLE_THREADS"); v != "" {
		threads, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUZZLE_THREADS %q: %w", v, err)
		}
		cfg.Threads = threads
	}

	if cfg.Threads < 1 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", cfg.Threads)
	}

	return cfg, nil
}

func applyScfgFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	block, err := scfg.Read(f)
	if err != nil {
		return err
	}

	for _, dir := range block {
		switch dir.Name {
		case "database-dsn":
			if err := dir.ParseParams(&cfg.DatabaseDSN); err != nil {
				return fmt.Errorf("database-dsn: %w", err)
			}
		case "jwks-url":
			if err := dir.ParseParams(&cfg.JWKSURL); err != nil {
				return fmt.Errorf("jwks-url: %w", err)
			}
		case "heartbeat-interval":
			var raw string
			if err := dir.ParseParams(&raw); err != nil {
				return fmt.Errorf("heartbeat-interval: %w", err)
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("heartbeat-interval: %w", err)
			}
			cfg.HeartbeatInterval = d
		case "accept-rate":
			if err := dir.ParseParams(&cfg.AcceptRatePerSec, &cfg.AcceptBurst); err != nil {
				return fmt.Errorf("accept-rate: %w", err)
			}
		case "log-level":
			if err := dir.ParseParams(&cfg.LogLevel); err != nil {
				return fmt.Errorf("log-level: %w", err)
			}
		case "log-format":
			if err := dir.ParseParams(&cfg.LogFormat); err != nil {
				return fmt.Errorf("log-format: %w", err)
			}
		}
	}
	return nil
}
