package slackcmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quailyquaily/slackrelay/integration"
	"github.com/spf13/cobra"
)

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	PrepareRelay    func(ctx context.Context, opts integration.RelayOptions) (*integration.PreparedRelay, error)
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newSlackCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func prepareRelay(ctx context.Context, opts integration.RelayOptions) (*integration.PreparedRelay, error) {
	if deps.PrepareRelay == nil {
		return nil, fmt.Errorf("PrepareRelay dependency missing")
	}
	return deps.PrepareRelay(ctx, opts)
}
