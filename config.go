package litesync

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Config configures Open. The zero value is not usable; start from NewConfig.
type Config struct {
	// Directory holds the database files. Empty means an in-memory database.
	Directory string
	Logger    logger.Logger
	// LogLevel is the level named by a config file. Logger already honours it;
	// it is kept for callers that build their own logger.
	LogLevel string
	// Executors provides the default executor of listeners registered with a
	// nil one. Shared by every database unless replaced.
	Executors *dispatch.Defaults
	// DefaultWorkers, when positive and Executors is nil, gives the database a
	// private pool of that size. It is shut down with the database.
	DefaultWorkers int
	// Registerer receives the notifier metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Engine replaces the storage engine picked from Directory.
	Engine Engine
}

func NewConfig() *Config {
	return &Config{
		Logger:    logger.Default(),
		Executors: dispatch.Global(),
	}
}

// fileConfig is the YAML layout read by LoadConfig.
type fileConfig struct {
	Directory string `yaml:"directory"`
	LogLevel  string `yaml:"log_level"`
	Workers   int    `yaml:"workers"`
	Metrics   bool   `yaml:"metrics"`
}

// LoadConfig reads a YAML file such as
//
//	directory: /var/lib/litesync
//	log_level: info
//	workers: 8
//	metrics: true
//
// Missing keys keep the NewConfig defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := NewConfig()
	cfg.Directory = fc.Directory
	if fc.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToUpper(fc.LogLevel))); err != nil {
			return nil, fmt.Errorf("parsing config %s: log_level: %w", path, err)
		}
		cfg.Logger = logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		cfg.LogLevel = strings.ToLower(fc.LogLevel)
	}
	if fc.Workers > 0 {
		cfg.Executors = nil
		cfg.DefaultWorkers = fc.Workers
	}
	if fc.Metrics {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	return cfg, nil
}
