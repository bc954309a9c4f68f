package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/signflow/internal/core/domain"
)

func TestSubjectUsesPrefix(t *testing.T) {
	q := &Queue{prefix: normalizePrefix(" acme.signing. ")}
	if got := q.Subject(domain.EventFinalizeRequested); got != "acme.signing.finalize_requested" {
		t.Fatalf("Subject() = %q", got)
	}
	if got := normalizePrefix(""); got != "signflow" {
		t.Fatalf("default prefix = %q", got)
	}
}

func TestDecodeRequestID(t *testing.T) {
	id, err := decodeRequestID([]byte(`{"type":"finalize_requested","request_id":"r-1"}`))
	if err != nil || id != "r-1" {
		t.Fatalf("decodeRequestID() = %q, %v", id, err)
	}
	for _, raw := range []string{`not json`, `{"type":"finalize_requested"}`} {
		if _, err := decodeRequestID([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestClassifyPublish(t *testing.T) {
	if c := classifyPublish(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)); !c.Retryable {
		t.Fatalf("closed connection must be retryable")
	}
	if c := classifyPublish(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("canceled must be terminal and unrecorded, got %+v", c)
	}
	if c := classifyPublish(errors.New("bad subject")); c.Retryable {
		t.Fatalf("unknown errors must not be retried")
	}
}

func TestTypePublishError(t *testing.T) {
	err := typePublishError(fmt.Errorf("publish: %w", nats.ErrNoServers))
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected storage kind, got %v", err)
	}
	plain := errors.New("bad subject")
	if got := typePublishError(plain); got != plain {
		t.Fatalf("terminal errors must pass through, got %v", got)
	}
}
