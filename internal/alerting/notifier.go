// Package alerting pushes failed-run notifications to chat channels.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const maxErrorRunes = 500

// Notification 描述一次失败的运行。
type Notification struct {
	Source    string
	RunID     string
	Stage     string
	ErrorKind string
	Error     string
	Attempts  int
	StartedAt time.Time
}

// Notifier delivers a notification. Delivery is best effort; callers only log errors.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Telegram posts notifications through the Bot API sendMessage method.
type Telegram struct {
	chatID string
	client *resty.Client
	logger zerolog.Logger
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram builds a Telegram notifier. apiBase defaults to the public Bot API.
func NewTelegram(botToken, chatID, apiBase string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")+"/bot"+botToken).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Telegram{
		chatID: chatID,
		client: client,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends one message rendered from note.
func (t *Telegram) Notify(ctx context.Context, note Notification) error {
	var out sendMessageResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: t.chatID, Text: renderMessage(note)}).
		SetResult(&out).
		SetError(&out).
		ForceContentType("application/json").
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram 响应码异常: %d %s", resp.StatusCode(), out.Description)
	}
	if !out.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", out.Description)
	}

	t.logger.Info().
		Str("source", note.Source).
		Str("run_id", note.RunID).
		Str("error_kind", note.ErrorKind).
		Msg("告警已发送")
	return nil
}

func renderMessage(note Notification) string {
	lines := []string{
		"[feedsync] run failed",
		"Source: " + note.Source,
		"Run: " + note.RunID,
		"Started: " + note.StartedAt.UTC().Format(time.RFC3339) + " UTC",
		"Stage: " + note.Stage,
		"Kind: " + note.ErrorKind,
	}
	if note.Attempts > 0 {
		lines = append(lines, fmt.Sprintf("Attempts: %d", note.Attempts))
	}
	if note.Error != "" {
		lines = append(lines, truncateRunes(note.Error, maxErrorRunes))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

var _ Notifier = (*Telegram)(nil)
