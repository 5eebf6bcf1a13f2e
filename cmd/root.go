// Package cmd wires the command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/system"
	"github.com/tradefabric/tradefabric/internal/tracing"
)

var (
	version  = "dev"
	cfgFile  string
	logLevel string
	runFor   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "tradefabric",
	Short: "Cooperative multi-agent forex trading fabric",
	Long: `tradefabric runs a set of cooperating trading agents over a shared
message broker: technical and fundamental analysis feed a strategy agent,
whose proposals pass risk review before a gateway executes them.`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: built-in defaults)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")
	rootCmd.Flags().DurationVar(&runFor, "duration", 0,
		"stop after this long (default: run until interrupted)")

	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config ok")
		return nil
	},
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	closeLog, err := log.Init(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closeLog()
	log.SetMinLevel(log.ParseLevel(cfg.LogLevel))

	traces, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = traces.Shutdown(shutdownCtx)
	}()

	sys, err := system.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	if err := sys.Start(ctx); err != nil {
		return fmt.Errorf("start system: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "tradefabric running, ctrl-c to stop")
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sys.Stop(stopCtx)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
