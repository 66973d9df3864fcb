// Package alerting delivers rendered notifications to the chat endpoint.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const echoPreviewLimit = 3800

// Dispatcher sends messages through a Notifier with bounded retries.
type Dispatcher struct {
	notifier Notifier
	retry    RetryConfig
	logger   zerolog.Logger
}

// NewDispatcher wires a notifier with its retry policy.
func NewDispatcher(notifier Notifier, cfg RetryConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		retry:    cfg.withDefaults(),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch delivers msg. Any failure after the retries are exhausted is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	if d.notifier == nil {
		return fmt.Errorf("dispatch: no notifier configured")
	}
	attempts := 0
	err := retry(ctx, d.retry, func(ctx context.Context) error {
		attempts++
		return d.notifier.Send(ctx, msg)
	})
	if err != nil {
		d.logger.Error().Err(err).
			Str("chat_id", msg.TargetChannel).
			Int("attempts", attempts).
			Msg("failed to dispatch notification")
		return fmt.Errorf("dispatch notification: %w", err)
	}
	d.logger.Info().Str("chat_id", msg.TargetChannel).
		Bool("silent", msg.Silent).
		Bool("debug", msg.Debug).
		Int("attempts", attempts).
		Msg("notification dispatched")
	return nil
}

// Echo sends a debug message with a truncated, escaped preview of payload.
func (d *Dispatcher) Echo(ctx context.Context, target string, payload any) error {
	return d.Dispatch(ctx, EchoMessage(target, payload))
}

// EchoMessage builds the debug preview message. Truncation happens before escaping
// so no entity is cut in half.
func EchoMessage(target string, payload any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	preview := fmt.Sprintf("%v", payload)
	if err := enc.Encode(payload); err == nil {
		preview = strings.TrimRight(buf.String(), "\n")
	}
	if utf8.RuneCountInString(preview) > echoPreviewLimit {
		preview = string([]rune(preview)[:echoPreviewLimit])
	}
	return Message{
		Title:         "🔎 <b>DEBUG_ECHO</b>",
		Body:          "<code>" + html.EscapeString(preview) + "</code>",
		TargetChannel: target,
		Silent:        true,
		Debug:         true,
	}
}
