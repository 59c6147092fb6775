// Package cli is the careerforge-offline command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nark2019/careerforgeai-sub001/internal/app"
	"github.com/nark2019/careerforgeai-sub001/internal/config"
	"github.com/nark2019/careerforgeai-sub001/internal/logging"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "careerforge-offline",
		Short: "Offline persistence and sync daemon for CareerForge",
		Long: `careerforge-offline keeps CareerForge usable without connectivity.

It stores assessment results locally, queues chat messages and user-data
writes that could not reach the API, replays them once connectivity returns,
and serves application resources from a versioned cache.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewInstallCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

// withApp loads the configuration, opens the app, runs fn and closes it.
func withApp(ctx context.Context, opts *RootOptions, fn func(*app.App) error) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, Version)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close: %w", closeErr)
		}
	}()

	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
