// Package main implements the bootseq command, which boots an application from an initializer directory of shell
// scripts and configuration fragments.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkock/bootseq/v3/internal/config"
	"github.com/mkock/bootseq/v3/internal/logging"
)

// version information
var version = "dev"

// runOptions holds the flags of the run command.
type runOptions struct {
	configPath string
	dirname    string
	extensions []string
	serve      bool
}

var runOpts runOptions

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootseq",
	Short: "Boot an application from an initializer directory",
	Long: `bootseq runs every initializer in a directory, in file name order, and reports
the first one that fails. Shell scripts (.sh) are piped to sh, configuration
fragments (.yaml, .yml, .toml) are merged into the application configuration.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.configPath, "config", "c", "bootseq.yaml", "config file (YAML or TOML)")
	runCmd.Flags().StringVarP(&runOpts.dirname, "dir", "d", "", "initializer directory (overrides init.dirname)")
	runCmd.Flags().StringSliceVar(&runOpts.extensions, "ext", nil, "initializer extensions to run (overrides init.extensions)")
	runCmd.Flags().BoolVar(&runOpts.serve, "serve", false, "serve /health and /metrics while booting and once booted")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// runCmd boots the application
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the boot sequence",
	Long: `Run every initializer in the initializer directory, halting at the first failure.

Examples:
  # Boot from etc/init
  bootseq run

  # Boot from another directory, running shell scripts only
  bootseq run --dir /srv/app/init --ext .sh

  # Boot, then report readiness until interrupted
  bootseq run --serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, runOpts, cmd.ErrOrStderr())
	},
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of bootseq",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bootseq %s\n", version)
	},
}

// run loads configuration, boots the application and, if requested, serves its readiness until ctx is done.
func run(ctx context.Context, opts runOptions, logOut io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dirname != "" {
		cfg.Init.Dirname = opts.dirname
	}
	if len(opts.extensions) > 0 {
		cfg.Init.Extensions = opts.extensions
	}

	log, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := newApp(cfg, log, reg)
	if !opts.serve {
		if err := app.Boot(ctx); err != nil {
			return fmt.Errorf("boot failed: %w", err)
		}
		return nil
	}

	srv := newServer(app, reg, log)
	if err := srv.Listen(cfg.Server.Addr); err != nil {
		return err
	}
	if err := bootAndServe(ctx, app, srv, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("serve failed", zap.Error(err))
		return err
	}
	return nil
}
