package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunsFailed) {
			color.Red("Error: %v", err)
		}
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "bulletin-verifier",
		Short: "Cross-check declared grades against official school reports",
		Long: `bulletin-verifier reads the declaration form and the school reports of
each candidate folder, reconciles the declared grades with the official ones
and records a verdict plus an Excel report next to the documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default config.yaml, or $CONFIG_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(opts),
		newVerifyCommand(opts),
		newStatusCommand(opts),
		newDetectCommand(opts),
		newHistoryCommand(opts),
	)
	return root
}
