package configutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("bot-token", "flag-default", "")
	cmd.Flags().StringArray("allowed", nil, "")
	cmd.Flags().Int("workers", 1, "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().Duration("timeout", time.Minute, "")
	return cmd
}

func TestFlagOrViperPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newTestCmd()
	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "flag-default" {
		t.Fatalf("default = %q, want flag-default", got)
	}

	viper.Set("slack.bot_token", "from-viper")
	viper.Set("relay.workers", 4)
	viper.Set("relay.turn_timeout", "30s")
	viper.Set("slack.allowed_channel_ids", []string{"C1", "C2"})
	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "from-viper" {
		t.Fatalf("viper value = %q, want from-viper", got)
	}
	if got := FlagOrViperInt(cmd, "workers", "relay.workers"); got != 4 {
		t.Fatalf("workers = %d, want 4", got)
	}
	if got := FlagOrViperDuration(cmd, "timeout", "relay.turn_timeout"); got != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", got)
	}
	if got := FlagOrViperStringArray(cmd, "allowed", "slack.allowed_channel_ids"); len(got) != 2 || got[1] != "C2" {
		t.Fatalf("allowed = %v", got)
	}

	if err := cmd.Flags().Set("bot-token", "from-flag"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cmd.Flags().Set("verbose", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := FlagOrViperString(cmd, "bot-token", "slack.bot_token"); got != "from-flag" {
		t.Fatalf("flag value = %q, want from-flag", got)
	}
	if !FlagOrViperBool(cmd, "verbose", "") {
		t.Fatalf("verbose should be true")
	}
	if got := FlagOrViperString(nil, "missing", ""); got != "" {
		t.Fatalf("nil cmd should resolve empty, got %q", got)
	}
}
