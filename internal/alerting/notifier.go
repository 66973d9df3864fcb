package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whale-relay/internal/version"
)

// Message 是一条待投递的通知。
type Message struct {
	Title         string
	Body          string
	TargetChannel string
	Silent        bool
	Debug         bool
}

// Text joins title and body as sent to the chat.
func (m Message) Text() string {
	if m.Title == "" {
		return m.Body
	}
	return m.Title + "\n" + m.Body
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError describes a failed sendMessage call.
type DeliveryError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram delivery failed: %v", e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram delivery failed (%d): %s", e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("telegram delivery failed (%d)", e.StatusCode)
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a retry may succeed: transport errors, 429 and 5xx.
func (e *DeliveryError) Temporary() bool {
	if e.Err != nil {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。timeout bounds a single HTTP attempt.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	payload := sendMessageRequest{
		ChatID:                msg.TargetChannel,
		Text:                  msg.Text(),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		DisableNotification:   msg.Silent,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var result sendMessageResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !result.OK) {
		derr := &DeliveryError{StatusCode: resp.StatusCode, Description: result.Description}
		if result.Parameters.RetryAfter > 0 {
			derr.RetryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
		}
		if derr.Description == "" && decodeErr != nil {
			derr.Description = strings.TrimSpace(string(raw))
		}
		return derr
	}

	n.logger.Debug().Str("chat_id", msg.TargetChannel).
		Bool("silent", msg.Silent).
		Bool("debug", msg.Debug).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes messages to the log instead of a chat. Used when no bot token is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Send logs the rendered message.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info().Str("chat_id", msg.TargetChannel).
		Bool("silent", msg.Silent).
		Bool("debug", msg.Debug).
		Str("text", msg.Text()).
		Msg("notification (telegram disabled)")
	return nil
}

// WriterNotifier prints messages to w. Used for dry runs.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier constructs a WriterNotifier.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Send writes a header line and the message text.
func (n *WriterNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "--- chat=%s silent=%t debug=%t\n%s\n", msg.TargetChannel, msg.Silent, msg.Debug, msg.Text())
	return err
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WriterNotifier)(nil)
)
