package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quailyquaily/slackrelay/cmd/slackrelay/chatcmd"
	"github.com/quailyquaily/slackrelay/cmd/slackrelay/slackcmd"
	"github.com/quailyquaily/slackrelay/cmd/slackrelay/toolscmd"
	"github.com/quailyquaily/slackrelay/integration"
	"github.com/quailyquaily/slackrelay/internal/logutil"
	"github.com/quailyquaily/slackrelay/tools"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "slackrelay",
		Short:         "Relay Slack threads to a tool-using model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initViper(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML).")
	root.PersistentFlags().String("log-level", "info", "Log level: trace|debug|info|warn|error.")
	root.PersistentFlags().String("log-format", "text", "Log format: text|json.")
	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(slackcmd.NewCommand(slackcmd.Dependencies{
		LoggerFromViper: logutil.LoggerFromViper,
		PrepareRelay:    prepareRelay,
	}))
	root.AddCommand(chatcmd.NewCommand(chatcmd.Dependencies{
		LoggerFromViper: logutil.LoggerFromViper,
		PrepareRelay:    prepareRelay,
	}))
	root.AddCommand(toolscmd.NewCommand(toolscmd.Dependencies{
		LoggerFromViper: logutil.LoggerFromViper,
		NewToolHost: func(ctx context.Context, logger *slog.Logger) (tools.Host, func() error, error) {
			rt, err := integration.New(integration.Config{Logger: logger})
			if err != nil {
				return nil, nil, err
			}
			return rt.NewToolHost(ctx, logger)
		},
	}))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func prepareRelay(ctx context.Context, opts integration.RelayOptions) (*integration.PreparedRelay, error) {
	rt, err := integration.New(integration.Config{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return rt.NewRelay(ctx, opts)
}
