package main

import (
	"fmt"
	"os"

	litesync "github.com/litesync/litesync.go"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags.
type rootOptions struct {
	dir      string
	name     string
	config   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "litesync",
		Short:         "Inspect and replicate litesync databases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "d", envOrDefault("LITESYNC_DIR", "."), "database directory")
	cmd.PersistentFlags().StringVarP(&opts.name, "name", "n", "litesync", "database name")
	cmd.PersistentFlags().StringVar(&opts.config, "config", "", "YAML config file; its directory overrides --dir")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newPutCommand(opts),
		newGetCommand(opts),
		newDeleteCommand(opts),
		newWatchCommand(opts),
		newSyncCommand(opts),
	)
	return cmd
}

// open opens the database selected by the global flags. The returned function
// closes it and flushes the log.
func (opts *rootOptions) open(cmd *cobra.Command) (*litesync.Database, func(), error) {
	cfg := litesync.NewConfig()
	if opts.config != "" {
		var err error
		if cfg, err = litesync.LoadConfig(opts.config); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Directory == "" {
		cfg.Directory = opts.dir
	}

	logData, err := logger.NewBuild().
		FromBuffer(cmd.ErrOrStderr()).
		Level(logger.ParseLevel(opts.level(cmd, cfg))).
		Console().
		Make()
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	cfg.Logger = logData

	db, err := litesync.Open(opts.name, cfg)
	if err != nil {
		_ = logData.Close()
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logData.Error("closing database", "error", err)
		}
		_ = logData.Close()
	}, nil
}

// level returns the config file's log level unless --log-level was given.
func (opts *rootOptions) level(cmd *cobra.Command, cfg *litesync.Config) string {
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		return cfg.LogLevel
	}
	return opts.logLevel
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
