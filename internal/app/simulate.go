package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"whale-relay/internal/alerting"
	"whale-relay/internal/dedup"
	"whale-relay/internal/security"
	"whale-relay/internal/service"
)

// Simulate 读取一个 payload 文件并走一遍完整的 ingest 流程。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions, out io.Writer) error {
	body, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if opts.ChatID != "" {
		if body, err = withChatID(body, opts.ChatID); err != nil {
			return err
		}
	}

	var (
		store    dedup.Store
		notifier alerting.Notifier
		closer   = func() {}
	)
	if opts.DryRun {
		store = dedup.NewMemoryStore(nil)
		notifier = alerting.NewWriterNotifier(out)
	} else {
		store, closer, err = a.openDedupStore(ctx)
		if err != nil {
			return err
		}
		notifier = a.newNotifier()
	}
	defer closer()

	svc := a.newService(store, notifier, a.Config.Alerting.DebugEcho)
	res, err := svc.Ingest(ctx, service.Request{Body: body, Signature: a.sign(body)})
	if err != nil {
		return fmt.Errorf("simulate (%s): %w", service.KindOf(err), err)
	}
	fmt.Fprintf(out, "key=%s type=%s chat=%s dedup=%t\n", res.Key, res.Type, res.Target, res.Duplicate)
	return nil
}

// sign produces the header a real sender would attach.
func (a *App) sign(body []byte) string {
	auth := security.NewAuthenticator(a.Config.Security.HMACSecret)
	if !auth.Enabled() {
		return ""
	}
	return auth.Sign(body)
}

func withChatID(body []byte, chatID string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var envelope map[string]any
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("payload must be a json object to override chat id: %w", err)
	}
	if envelope == nil {
		return nil, errors.New("payload is null")
	}
	envelope["chat_id"] = chatID
	return json.Marshal(envelope)
}
