package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	var received sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, testLogger())
	msg := Message{Title: "<b>t</b>", Body: "body", TargetChannel: "111", Silent: true}

	if err := notifier.Send(context.Background(), msg); err != nil {
		t.Fatalf("Telegram Send 应成功: %v", err)
	}

	if received.ChatID != "111" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received.Text != "<b>t</b>\nbody" {
		t.Fatalf("text 不正确: %q", received.Text)
	}
	if received.ParseMode != "HTML" || !received.DisableNotification || !received.DisableWebPagePreview {
		t.Fatalf("发送参数不正确: %#v", received)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, testLogger())
	err := notifier.Send(context.Background(), Message{TargetChannel: "1", Body: "x"})
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Temporary() {
		t.Fatalf("ok=false 不应视为临时错误: %v", err)
	}
}

func TestTelegramNotifierRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error_code": 429, "description": "Too Many Requests",
			"parameters": map[string]any{"retry_after": 3},
		})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, testLogger())
	err := notifier.Send(context.Background(), Message{TargetChannel: "1", Body: "x"})
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("应返回 DeliveryError: %v", err)
	}
	if !derr.Temporary() || derr.RetryAfter != 3*time.Second {
		t.Fatalf("429 应可重试并带 retry_after: %+v", derr)
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	d := NewDispatcher(NewTelegramNotifier("token", srv.URL, time.Second, testLogger()), fastRetry(), testLogger())
	if err := d.Dispatch(context.Background(), Message{TargetChannel: "1", Body: "x"}); err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("期望 3 次请求, 实际 %d", got)
	}
}

func TestDispatcherDoesNotRetryPermanentFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Bad Request: can't parse entities"})
	}))
	defer srv.Close()

	d := NewDispatcher(NewTelegramNotifier("token", srv.URL, time.Second, testLogger()), fastRetry(), testLogger())
	err := d.Dispatch(context.Background(), Message{TargetChannel: "1", Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "can't parse entities") {
		t.Fatalf("应返回 400 错误描述: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("400 不应重试, 实际请求 %d 次", got)
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(NewTelegramNotifier("token", srv.URL, time.Second, testLogger()), fastRetry(), testLogger())
	if err := d.Dispatch(context.Background(), Message{TargetChannel: "1", Body: "x"}); err == nil {
		t.Fatal("持续 503 应返回错误")
	}
	if got := atomic.LoadInt32(&calls); got != int32(fastRetry().MaxAttempts) {
		t.Fatalf("期望 %d 次请求, 实际 %d", fastRetry().MaxAttempts, got)
	}
}

func TestDispatcherStopsWhenRetryAfterExceedsMaxDelay(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error_code": 429, "description": "Too Many Requests",
			"parameters": map[string]any{"retry_after": 30},
		})
	}))
	defer srv.Close()

	d := NewDispatcher(NewTelegramNotifier("token", srv.URL, time.Second, testLogger()), fastRetry(), testLogger())
	start := time.Now()
	err := d.Dispatch(context.Background(), Message{TargetChannel: "1", Body: "x"})
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.RetryAfter != 30*time.Second {
		t.Fatalf("应返回带 retry_after 的 429: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("retry_after 超过 MaxDelay 时不应提前重试, 实际请求 %d 次", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("不应等待 retry_after")
	}
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	d := NewDispatcher(NewTelegramNotifier("token", srv.URL, time.Second, testLogger()), cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Dispatch(ctx, Message{TargetChannel: "1", Body: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("取消后应返回 context 错误: %v", err)
	}
}

func TestEchoMessageTruncatesAndEscapes(t *testing.T) {
	payload := map[string]any{"note": strings.Repeat("<", 5000)}
	msg := EchoMessage("42", payload)

	if !msg.Debug || !msg.Silent || msg.TargetChannel != "42" {
		t.Fatalf("echo 标记不正确: %+v", msg)
	}
	if strings.Contains(strings.TrimSuffix(strings.TrimPrefix(msg.Body, "<code>"), "</code>"), "<") {
		t.Fatal("预览内容应被转义")
	}
	if n := strings.Count(msg.Body, "&lt;"); n == 0 || n >= 5000 {
		t.Fatal("预览应被截断")
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, AttemptTimeout: time.Second}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)
	if err := n.Send(context.Background(), Message{Title: "t", Body: "b", TargetChannel: "9", Silent: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := buf.String(); got != "--- chat=9 silent=true debug=false\nt\nb\n" {
		t.Fatalf("输出不符合预期: %q", got)
	}
}
