package httpadapter

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/signflow/internal/core/ports"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// idempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Keys are scoped to the caller and path; reusing a key with
// a different body is a conflict. Server errors are not remembered.
func idempotencyMiddleware(store ports.IdempotencyStore, ttl time.Duration, next http.Handler) http.Handler {
	if store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "validation_failed", "read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := callerFromContext(r.Context()) + "|" + r.URL.Path + "|" + key
		fingerprint := requestFingerprint(body)

		cached, ok, err := store.Lookup(r.Context(), scoped)
		if err != nil {
			slog.Warn("idempotency_lookup_failed", "path", r.URL.Path, "error", err.Error())
		}
		if ok {
			if cached.RequestHash != fingerprint {
				writeErrorMessage(w, http.StatusConflict, "idempotency_key_reused", "idempotency key was used with a different request body")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(cached.StatusCode)
			if _, err := w.Write(cached.Body); err != nil {
				logWriteFailure(r, err)
			}
			return
		}

		capture := &captureWriter{header: http.Header{}, status: http.StatusOK}
		next.ServeHTTP(capture, r)

		for k, v := range capture.header {
			w.Header()[k] = v
		}
		w.WriteHeader(capture.status)
		if _, err := w.Write(capture.body.Bytes()); err != nil {
			logWriteFailure(r, err)
		}

		if capture.status >= http.StatusInternalServerError {
			return
		}
		if err := store.Remember(r.Context(), scoped, ports.IdempotentResponse{
			RequestHash: fingerprint,
			StatusCode:  capture.status,
			Body:        capture.body.Bytes(),
		}, ttl); err != nil {
			slog.Warn("idempotency_remember_failed", "path", r.URL.Path, "error", err.Error())
		}
	})
}

func requestFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type captureWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = status
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	return c.body.Write(b)
}
