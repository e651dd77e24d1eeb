package notify

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/viper"
)

// Event types for a plan's lifecycle (SPEC_FULL.md §9's operator-visible
// surface: a plan starting, a gate passing/failing, an escalation needing
// a human, and plan completion).
const (
	EventPlanStarted   = "plan_started"
	EventGatePassed    = "gate_passed"
	EventGateFailed    = "gate_failed"
	EventHumanRequired = "human_required"
	EventPlanCompleted = "plan_completed"
)

// Manager handles Slack notifications for plan-lifecycle events. The
// teacher's Manager also carried a Discord backend; SPEC_FULL.md names
// only Slack (§1A, §1B), so that backend was dropped rather than adapted
// — see DESIGN.md.
type Manager struct {
	client       *slack.Client
	socketClient *socketmode.Client
	channelID    string

	logger func(string, ...interface{})
}

// ThreadState represents the state of a Slack thread across notify calls.
type ThreadState struct {
	SlackTS string `json:"slack_ts,omitempty"`
}

// NewManager creates a new Notification Manager.
func NewManager(logger func(string, ...interface{})) *Manager {
	m := &Manager{
		logger: logger,
	}

	m.initSlack()

	return m
}

func (m *Manager) initSlack() {
	if !viper.GetBool("notifications.slack.enabled") {
		return
	}

	botToken := os.Getenv("SLACK_BOT_USER_TOKEN")
	appToken := os.Getenv("SLACK_APP_TOKEN")

	if botToken == "" {
		if m.logger != nil {
			m.logger("Warning: SLACK_BOT_USER_TOKEN not set, slack notifications disabled")
		}
		return
	}

	// Initialize API Client
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	m.client = api
	m.channelID = viper.GetString("notifications.slack.channel")

	if appToken != "" && strings.HasPrefix(appToken, "xapp-") {
		m.socketClient = socketmode.New(api)
	}
}

// Start initiates background clients (e.g. Socket Mode) if configured.
func (m *Manager) Start(ctx context.Context) {
	if m.socketClient != nil {
		go func() {
			if m.logger != nil {
				m.logger("Starting Slack Socket Mode...")
			}
			err := m.socketClient.RunContext(ctx)
			if err != nil && err != context.Canceled {
				if m.logger != nil {
					m.logger("Slack Socket Mode error: %v", err)
				}
			}
		}()
	}
}

// Notify sends a notification if the event is enabled in configuration.
// It returns the Slack thread timestamp when one is known, otherwise "{}";
// an event that is not enabled returns "".
func (m *Manager) Notify(ctx context.Context, eventType string, message string, threadStateStr string) (string, error) {
	if m.logger != nil {
		m.logger("Checking notification for event: %s", eventType)
	}

	if !m.isEnabled(eventType) {
		return "", nil
	}

	if m.logger != nil {
		m.logger("Sending notification for event: %s", eventType)
	}

	// Parse Thread State
	ts := parseThreadState(threadStateStr)

	// Send to Slack
	if m.client != nil && m.isProviderEnabled("slack") {
		newTS, err := m.notifySlack(ctx, message, ts.SlackTS)
		if err != nil {
			if m.logger != nil {
				m.logger("Failed to send Slack notification: %v", err)
			}
		} else {
			ts.SlackTS = newTS
		}
	}

	return dumpThreadState(ts), nil
}

func (m *Manager) notifySlack(ctx context.Context, message, threadTS string) (string, error) {
	channelID := m.channelID
	if channelID == "" {
		channelID = "#general"
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(message, false),
	}

	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, newTS, err := m.client.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", err
	}
	return newTS, nil
}

func (m *Manager) isEnabled(eventType string) bool {
	if !m.isProviderEnabled("slack") {
		return false
	}
	return viper.GetBool("notifications.slack.events." + eventType)
}

func (m *Manager) isProviderEnabled(provider string) bool {
	return viper.GetBool("notifications." + provider + ".enabled")
}

// AddReaction adds an emoji reaction to a message.
func (m *Manager) AddReaction(ctx context.Context, threadStateStr, reaction string) error {
	ts := parseThreadState(threadStateStr)

	// Slack
	if m.client != nil && ts.SlackTS != "" {
		channelID := m.channelID
		if channelID == "" {
			channelID = "#general"
		}
		err := m.client.AddReactionContext(ctx, reaction, slack.ItemRef{
			Channel:   channelID,
			Timestamp: ts.SlackTS,
		})
		if err != nil && m.logger != nil {
			m.logger("Failed to add Slack reaction %s: %v", reaction, err)
		}
	}

	return nil
}

// Helpers for Thread State

func parseThreadState(s string) ThreadState {
	var ts ThreadState
	if s == "" {
		return ts
	}

	// Try parsing as JSON
	if err := json.Unmarshal([]byte(s), &ts); err == nil {
		return ts
	}

	// Fallback: Treat as legacy Slack TS (string)
	return ThreadState{SlackTS: s}
}

func dumpThreadState(ts ThreadState) string {
	if ts.SlackTS != "" {
		return ts.SlackTS
	}

	data, _ := json.Marshal(ts)
	return string(data)
}
