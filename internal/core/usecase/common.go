package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

var tracer = otel.Tracer("github.com/kirillkom/signflow/internal/core/usecase")

// defaultNow truncates to microseconds so timestamps survive a Postgres round trip.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// storageError types untyped adapter failures as storage errors and keeps
// typed ones as they are.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrStorage, op, err)
}

// NormalizeSignerID folds case and Unicode form so that visually equal
// identifiers compare equal.
func NormalizeSignerID(id string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(id)))
}

func sameSigner(a, b string) bool {
	return NormalizeSignerID(a) == NormalizeSignerID(b)
}

func notify(ctx context.Context, notifier ports.Notifier, event domain.SigningEvent) {
	if notifier == nil {
		return
	}
	if err := notifier.Publish(ctx, event); err != nil {
		slog.Warn("notification_failed",
			"type", event.Type,
			"request_id", event.RequestID,
			"signer_id", event.SignerID,
			"error", err.Error(),
		)
	}
}

type nopMetrics struct{}

func (nopMetrics) SignatureSubmitted(string) {}
func (nopMetrics) RequestCompleted()         {}
func (nopMetrics) Finalized(string)          {}
func (nopMetrics) Verified(bool)             {}

func metricsOrNop(m ports.SigningMetrics) ports.SigningMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
