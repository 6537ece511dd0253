package integration

import (
	"time"

	"github.com/quailyquaily/slackrelay/agent"
	"github.com/quailyquaily/slackrelay/internal/relay"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
	"github.com/quailyquaily/slackrelay/llm/anthropic"
	"github.com/spf13/viper"
)

// ApplyViperDefaults registers the default value of every configuration key.
func ApplyViperDefaults() {
	viper.SetDefault("slack.base_url", "https://slack.com/api")
	viper.SetDefault("slack.allowed_team_ids", []string{})
	viper.SetDefault("slack.allowed_channel_ids", []string{})

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.endpoint", anthropic.DefaultEndpoint)
	viper.SetDefault("llm.model", "claude-sonnet-4-5")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.request_timeout", 90*time.Second)

	viper.SetDefault("session.max_history", session.DefaultMaxHistory)

	viper.SetDefault("relay.system_prompt", "")
	viper.SetDefault("relay.turn_timeout", relay.DefaultTurnTimeout)
	viper.SetDefault("relay.workers", router.DefaultWorkers)
	viper.SetDefault("relay.queue_size", router.DefaultQueueSize)

	viper.SetDefault("agent.max_rounds", agent.DefaultMaxRounds)
	viper.SetDefault("agent.workspace_roots", []string{})

	viper.SetDefault("tools.manifest", "")
	viper.SetDefault("tools.auth_token", "")

	viper.SetDefault("status.listen", "")
	viper.SetDefault("status.auth_token", "")
	viper.SetDefault("status.max_turns", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
