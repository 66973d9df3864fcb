// Package service runs one inbound alert through authentication, dedup,
// destination policy, rendering, and delivery.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whale-relay/internal/alerting"
	"whale-relay/internal/dedup"
	"whale-relay/internal/format"
	"whale-relay/internal/normalize"
	"whale-relay/internal/security"
)

// Message types accepted on the envelope.
const (
	TypeWhale  = "whale"
	TypeDigest = "digest"
)

// Request is one inbound delivery.
type Request struct {
	Body      []byte
	Signature string
}

// Result reports how an accepted request was handled.
type Result struct {
	Key       string
	Duplicate bool
	Type      string
	Target    string
}

// Options tune delivery.
type Options struct {
	Silent    bool
	DebugEcho bool
	Now       func() time.Time
}

// Service orchestrates the ingest pipeline.
type Service struct {
	auth       *security.Authenticator
	dedup      *dedup.Deduplicator
	access     *security.AccessControl
	normalizer *normalize.Normalizer
	formatter  *format.Formatter
	dispatcher *alerting.Dispatcher
	logger     zerolog.Logger

	silent    bool
	debugEcho bool
	now       func() time.Time
}

// New constructs the ingest service.
func New(auth *security.Authenticator, dd *dedup.Deduplicator, access *security.AccessControl, normalizer *normalize.Normalizer, formatter *format.Formatter, dispatcher *alerting.Dispatcher, opts Options, logger zerolog.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		auth:       auth,
		dedup:      dd,
		access:     access,
		normalizer: normalizer,
		formatter:  formatter,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "service").Logger(),
		silent:     opts.Silent,
		debugEcho:  opts.DebugEcho,
		now:        now,
	}
}

// Ingest processes one request. Errors are *Error values carrying a Kind.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := s.auth.Verify(req.Body, req.Signature); err != nil {
		return Result{}, newError(KindAuthentication, err)
	}

	envelope, err := decodeEnvelope(req.Body)
	if err != nil {
		return Result{}, &Error{Kind: KindValidation, Msg: "invalid json body", Err: err}
	}
	kind := field(envelope, "type")
	if kind == "" {
		kind = TypeWhale
	}

	explicitKey := field(envelope, "idempotency_key")
	mark, err := s.dedup.CheckAndMark(ctx, req.Body, explicitKey)
	if err != nil {
		return Result{Key: mark.Key, Type: kind}, newError(KindInternal, err)
	}
	result := Result{Key: mark.Key, Duplicate: mark.Duplicate, Type: kind}
	if mark.Duplicate {
		s.logger.Info().Str("key", mark.Key).Str("type", kind).Msg("duplicate delivery suppressed")
		return result, nil
	}

	// 从这里开始任何失败都要释放 key，否则 TTL 内的重试会被误判为重复。
	delivered := false
	defer func() {
		if !delivered {
			s.release(ctx, mark)
		}
	}()

	target, err := s.access.Authorize(field(envelope, "chat_id"))
	switch {
	case errors.Is(err, security.ErrMissingTarget):
		return result, newError(KindValidation, err)
	case errors.Is(err, security.ErrTargetNotAllowed):
		return result, newError(KindAuthorization, err)
	case err != nil:
		return result, newError(KindInternal, err)
	}
	result.Target = target

	rendered := s.compose(kind, envelope)

	if err := ctx.Err(); err != nil {
		return result, newError(KindInternal, fmt.Errorf("request abandoned: %w", err))
	}

	msg := alerting.Message{
		Title:         rendered.Title,
		Body:          rendered.Body,
		TargetChannel: target,
		Silent:        s.silent,
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		return result, newError(KindInternal, err)
	}
	delivered = true

	s.logger.Info().Str("key", mark.Key).
		Str("type", kind).
		Str("chat_id", target).
		Msg("alert delivered")

	if s.debugEcho && kind == TypeWhale {
		if err := s.dispatcher.Echo(ctx, target, echoPayload(envelope)); err != nil {
			s.logger.Warn().Err(err).Str("key", mark.Key).Msg("debug echo failed")
		}
	}

	return result, nil
}

func (s *Service) compose(kind string, envelope map[string]any) format.Rendered {
	switch kind {
	case TypeWhale:
		raw, ok := envelope["payload"]
		if !ok || raw == nil {
			raw = map[string]any{}
		}
		return s.formatter.Whale(s.normalizer.Normalize(raw))
	case TypeDigest:
		if html, ok := envelope["html"].(string); ok && strings.TrimSpace(html) != "" {
			return format.Rendered{Body: html}
		}
		items := format.ParseDigestItems(envelope["items"])
		day := format.DigestDay(field(envelope, "date"), s.now())
		return s.formatter.Digest(items, day)
	default:
		text, _ := envelope["text"].(string)
		return s.formatter.Text(text)
	}
}

func (s *Service) release(ctx context.Context, mark dedup.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.dedup.Release(ctx, mark); err != nil {
		s.logger.Error().Err(err).Str("key", mark.Key).Msg("failed to release dedup key")
	}
}

// decodeEnvelope accepts any JSON value; non-object bodies carry no fields.
func decodeEnvelope(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{}, nil
}

// field reads a scalar envelope field; numbers are accepted for ids.
func field(envelope map[string]any, name string) string {
	s, _ := normalize.AsString(envelope[name])
	return s
}

func echoPayload(envelope map[string]any) any {
	if p, ok := envelope["payload"]; ok && p != nil {
		return p
	}
	return map[string]any{}
}
