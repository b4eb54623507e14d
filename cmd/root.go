// Package cmd is the chatclone command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/config"
)

var version = "dev"

type rootOptions struct {
	cfgPath     string
	verbose     bool
	metricsAddr string
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chatclone",
		Short: "Long-term memory and tone cloning for private chat archives",
		Long: `chatclone indexes a decrypted chat archive into per-session vector memory,
derives a tone guide for the counterpart, and answers messages in their voice.

Examples:
  chatclone sessions list
  chatclone index wxid_abc --reset
  chatclone query wxid_abc 火锅 --role target
  chatclone tone generate wxid_abc
  chatclone chat wxid_abc`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "config file (default $CHATCLONE_CONFIG or ~/.chatclone/config.json5)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(initCmd(opts))
	cmd.AddCommand(indexCmd(opts))
	cmd.AddCommand(queryCmd(opts))
	cmd.AddCommand(toneCmd(opts))
	cmd.AddCommand(chatCmd(opts))
	cmd.AddCommand(sessionsCmd(opts))
	return cmd
}

func (o *rootOptions) configPath() string {
	if o.cfgPath != "" {
		return o.cfgPath
	}
	return config.DefaultPath()
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
