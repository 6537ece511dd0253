package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quailyquaily/slackrelay/integration"
	"github.com/quailyquaily/slackrelay/internal/configutil"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
	"github.com/quailyquaily/slackrelay/internal/slackbus"
	"github.com/quailyquaily/slackrelay/internal/statusapi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type slackSocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type slackEventAuthorization struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

type slackEventsAPIPayload struct {
	TeamID         string                    `json:"team_id,omitempty"`
	EventID        string                    `json:"event_id,omitempty"`
	EventTime      int64                     `json:"event_time,omitempty"`
	Event          json.RawMessage           `json:"event,omitempty"`
	Authorizations []slackEventAuthorization `json:"authorizations,omitempty"`
}

type slackEvent struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
}

type slackInboundEvent struct {
	TeamID       string
	ChannelID    string
	ChatType     string
	MessageTS    string
	ThreadTS     string
	UserID       string
	Text         string
	EventID      string
	SentAt       time.Time
	MentionUsers []string
	IsAppMention bool
}

var slackMentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

func newSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Relay Slack threads to the model with Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or SLACK_RELAY_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or SLACK_RELAY_SLACK_APP_TOKEN)")
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := newSlackAPI(httpClient, configutil.FlagOrViperString(cmd, "slack-base-url", "slack.base_url"), botToken, appToken)
			auth, err := api.authTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("identify bot: %w", err)
			}
			botUserID := auth.UserID
			if len(allowedTeams) == 0 && auth.TeamID != "" {
				allowedTeams[auth.TeamID] = true
			}

			slackDeliveryAdapter, err := slackbus.NewDeliveryAdapter(slackbus.DeliveryAdapterOptions{
				Post:   api.postThreadReply,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			prepared, err := prepareRelay(cmd.Context(), integration.RelayOptions{
				Delivery: slackDeliveryAdapter,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := prepared.Cleanup(); err != nil {
					logger.Warn("slack_cleanup_error", "error", err.Error())
				}
			}()

			slackInboundAdapter, err := slackbus.NewInboundAdapter(slackbus.InboundAdapterOptions{
				Submit:          prepared.Relay.Submit,
				BotUserID:       botUserID,
				AllowedTeams:    allowedTeams,
				AllowedChannels: allowedChannels,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(cmd.Context())

			statusListen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "status-listen", "status.listen"))
			if statusListen != "" {
				if _, err := statusapi.StartServer(gctx, logger, statusapi.ServerOptions{
					Listen: statusListen,
					Routes: statusapi.RoutesOptions{
						Mode:      "slack",
						AuthToken: configutil.FlagOrViperString(cmd, "status-auth-token", "status.auth_token"),
						Turns:     prepared.Turns,
						Sessions:  prepared.Sessions,
					},
				}); err != nil {
					return fmt.Errorf("start status server: %w", err)
				}
			}

			logger.Info("slack_start",
				"bot_user_id", botUserID,
				"team_id", auth.TeamID,
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"status_listen", statusListen,
			)

			g.Go(func() error {
				return prepared.Relay.Run(gctx)
			})
			g.Go(func() error {
				defer prepared.Router.Close()
				return runSocketLoop(gctx, logger, api, func(envelope slackSocketEnvelope) error {
					event, ok, err := parseSlackInboundEvent(envelope, botUserID)
					if err != nil {
						logger.Warn("slack_event_parse_error", "envelope_id", envelope.EnvelopeID, "error", err.Error())
						return nil
					}
					if !ok {
						return nil
					}
					if !shouldRelay(event, botUserID, knownThread(prepared.Sessions, prepared.Router)) {
						return nil
					}
					req, accepted, err := slackInboundAdapter.HandleInboundMessage(gctx, slackbus.InboundMessage{
						TeamID:    event.TeamID,
						ChannelID: event.ChannelID,
						ChatType:  event.ChatType,
						MessageTS: event.MessageTS,
						ThreadTS:  event.ThreadTS,
						UserID:    event.UserID,
						Text:      event.Text,
						SentAt:    event.SentAt,
						EventID:   event.EventID,
					})
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						logger.Warn("slack_inbound_error", "channel_id", event.ChannelID, "message_ts", event.MessageTS, "error", err.Error())
						return nil
					}
					if !accepted {
						logger.Debug("slack_inbound_skipped", "channel_id", event.ChannelID, "message_ts", event.MessageTS)
						return nil
					}
					logger.Debug("slack_inbound_queued", "request_id", req.ID, "channel_id", event.ChannelID, "message_ts", event.MessageTS)
					return nil
				})
			})

			err = g.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("slack_stop", "reason", "context_canceled")
			return nil
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().String("slack-base-url", "https://slack.com/api", "Slack Web API base URL.")
	cmd.Flags().StringArray("slack-allowed-team-id", nil, "Allowed Slack team id(s). If empty, defaults to the bot's home team.")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed Slack channel id(s). If empty, allows all channels in allowed teams.")
	cmd.Flags().String("status-listen", "", "Listen address for the status API (e.g. 127.0.0.1:8787). Empty disables it.")
	cmd.Flags().String("status-auth-token", "", "Bearer token required by /sessions and /turns.")

	return cmd
}

// runSocketLoop keeps a Socket Mode connection open until ctx is done,
// reconnecting after read or connect errors.
func runSocketLoop(ctx context.Context, logger *slog.Logger, api *slackAPI, onEnvelope func(envelope slackSocketEnvelope) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := api.connectSocket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("slack_socket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, 2*time.Second); err != nil {
				return err
			}
			continue
		}
		logger.Info("slack_socket_connected")
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		readErr := consumeSlackSocket(ctx, conn, onEnvelope)
		stop()
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if readErr != nil {
			logger.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}

func consumeSlackSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope slackSocketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope slackSocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if strings.TrimSpace(envelope.Type) == "disconnect" {
			return fmt.Errorf("slack requested disconnect")
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

func parseSlackInboundEvent(envelope slackSocketEnvelope, botUserID string) (slackInboundEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return slackInboundEvent{}, false, nil
	}
	var payload slackEventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return slackInboundEvent{}, false, err
	}
	var event slackEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return slackInboundEvent{}, false, err
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType != "message" && eventType != "app_mention" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return slackInboundEvent{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return slackInboundEvent{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	if channelID == "" {
		return slackInboundEvent{}, false, nil
	}
	messageTS := strings.TrimSpace(event.TS)
	if messageTS == "" {
		return slackInboundEvent{}, false, nil
	}
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return slackInboundEvent{}, false, nil
	}
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}
	if teamID == "" && len(payload.Authorizations) > 0 {
		teamID = strings.TrimSpace(payload.Authorizations[0].TeamID)
	}
	if teamID == "" {
		return slackInboundEvent{}, false, fmt.Errorf("missing team_id in slack event")
	}

	sentAt := time.Now().UTC()
	if payload.EventTime > 0 {
		sentAt = time.Unix(payload.EventTime, 0).UTC()
	}

	return slackInboundEvent{
		TeamID:       teamID,
		ChannelID:    channelID,
		ChatType:     normalizeSlackChatType(event.ChannelType, channelID),
		MessageTS:    messageTS,
		ThreadTS:     strings.TrimSpace(event.ThreadTS),
		UserID:       userID,
		Text:         text,
		EventID:      strings.TrimSpace(payload.EventID),
		SentAt:       sentAt,
		MentionUsers: collectSlackMentionUsers(text),
		IsAppMention: eventType == "app_mention",
	}, true, nil
}

// shouldRelay decides whether an event starts or continues a turn. Direct
// messages always do. In channels the bot answers app mentions, plus plain
// replies in threads it already knows. A channel message that mentions the
// bot is left to its app_mention twin so it is handled once.
func shouldRelay(event slackInboundEvent, botUserID string, hasSession func(session.Key) bool) bool {
	if !isSlackGroupChat(event.ChatType) {
		return !event.IsAppMention
	}
	if event.IsAppMention {
		return true
	}
	for _, id := range event.MentionUsers {
		if id == botUserID {
			return false
		}
	}
	if event.ThreadTS == "" || hasSession == nil {
		return false
	}
	return hasSession(session.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadTS})
}

// knownThread reports whether the bot already answers in a thread: it has a
// session, or a request for it is still queued or running and will create one.
func knownThread(sessions *session.Store, rtr *router.Router) func(session.Key) bool {
	return func(key session.Key) bool {
		if sessions != nil {
			if _, ok := sessions.Get(key); ok {
				return true
			}
		}
		return rtr.Pending(key)
	}
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func isSlackGroupChat(chatType string) bool {
	switch strings.ToLower(strings.TrimSpace(chatType)) {
	case "channel", "private_channel", "mpim":
		return true
	default:
		return false
	}
}

func normalizeSlackChatType(channelType, channelID string) string {
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	switch channelType {
	case "im", "mpim", "channel", "private_channel":
		return channelType
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return "im"
	case strings.HasPrefix(channelID, "C"):
		return "channel"
	case strings.HasPrefix(channelID, "G"):
		return "private_channel"
	default:
		return "channel"
	}
}

func collectSlackMentionUsers(text string) []string {
	matches := slackMentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		userID := strings.TrimSpace(match[1])
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		out = append(out, userID)
	}
	return out
}
