package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatline/internal/app"
	"chatline/internal/config"
	"chatline/internal/logging"
)

// shutdownTimeout bounds how long live sessions get to finish
const shutdownTimeout = 30 * time.Second

var (
	// Semantic version, set with -ldflags at build time
	semVersion = "v0.0.0-dev"

	// sha1 from git, output of $(git rev-parse HEAD)
	gitCommit = "unknown"
)

// newRootCmd instantiates the root command and the tree of subcommands
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "chatline",
		Short:             "Line-oriented chat server with durable history",
		DisableAutoGenTag: true,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.StringP("log-level", "l", logging.LevelInfo,
		"Log level. Valid values are: debug, info, warn, error, dpanic, panic, fatal.")
	flags.StringP("log-output-path", "o", "stdout", "Output path for log")
	flags.String("db", "", "Path to the SQLite history database")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runServe(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Chat listener host")
	flags.Int("port", 0, "Chat listener port")
	flags.String("http-host", "", "HTTP listener host")
	flags.Int("http-port", 0, "HTTP listener port")
	flags.Bool("no-http", false, "Disable the HTTP API and WebSocket endpoint")
	flags.String("timezone", "", "IANA zone used to display timestamps")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and validate the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			versions, err := app.RunMigrations(cfg, logger)
			if err != nil {
				return err
			}
			for _, version := range versions {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "chatline %s (%s) %s %s/%s\n",
				semVersion, gitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

// loadRuntime resolves layered configuration and builds the logger it names
func loadRuntime(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// runServe starts the application and blocks until a shutdown signal or a
// serving failure
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, application.Stop(stopCtx))
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatline": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return application.Stop(ctx)
			},
		},
	)

	failed := make(chan error, 1)
	go func() { failed <- application.Wait() }()

	select {
	case exitCode := <-wait:
		logger.Info("chatline exited", zap.Int("exit_code", exitCode))
		if exitCode != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", exitCode)
		}
		return nil
	case err := <-failed:
		// Serving stopped without a signal
		logger.Error("chatline stopped serving", zap.Error(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, application.Stop(stopCtx))
	}
}
