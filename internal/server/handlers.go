package server

import (
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"whale-relay/internal/service"
)

const debugBodyPreview = 1200

const ingestInfo = "Ingest OK - use POST to submit an alert."

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleIngestInfo(c *gin.Context) {
	c.String(http.StatusOK, ingestInfo)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleIngest(c *gin.Context) {
	body, err := s.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable body"})
		return
	}

	// debug_log 是显式开关，不受 logging.level 影响。
	if s.opts.Server.DebugLog {
		s.logger.Info().
			Str("request_id", c.GetString(requestIDKey)).
			Str("body", preview(body, debugBodyPreview)).
			Msg("ingest body")
	}

	res, err := s.ingester.Ingest(c.Request.Context(), service.Request{
		Body:      body,
		Signature: c.GetHeader(s.opts.SignatureHeader),
	})
	if err != nil {
		kind := service.KindOf(err)
		event := s.logger.Warn()
		if kind == service.KindInternal {
			event = s.logger.Error()
		}
		event.Err(err).
			Str("request_id", c.GetString(requestIDKey)).
			Str("kind", kind.String()).
			Str("key", res.Key).
			Msg("ingest rejected")
		c.JSON(kind.StatusCode(), gin.H{"ok": false, "error": err.Error()})
		return
	}

	if res.Duplicate {
		c.JSON(http.StatusOK, gin.H{"ok": true, "dedup": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	limit := s.opts.Server.MaxBodyBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return io.ReadAll(c.Request.Body)
}

func preview(body []byte, limit int) string {
	if utf8.RuneCount(body) <= limit {
		return string(body)
	}
	return string([]rune(string(body))[:limit])
}
