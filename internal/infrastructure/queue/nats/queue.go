package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

const workerQueueGroup = "workers"

// Queue publishes signing events to "<prefix>.<event type>" subjects and
// feeds finalize requests to the worker.
type Queue struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
}

func New(url, prefix string) (*Queue, error) {
	return NewWithOptions(url, prefix, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, prefix string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("signflow"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		prefix:   normalizePrefix(prefix),
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Subject(t domain.EventType) string {
	return q.prefix + "." + string(t)
}

func (q *Queue) Publish(ctx context.Context, event domain.SigningEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	subject := q.Subject(event.Type)
	err = q.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}, classifyPublish)
	if err != nil {
		return typePublishError(err)
	}
	return nil
}

// SubscribeFinalizeRequested blocks until ctx is done, handing each
// requested request id to handler. Workers share one queue group so each
// event is handled once.
func (q *Queue) SubscribeFinalizeRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.Subject(domain.EventFinalizeRequested), workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		requestID, err := decodeRequestID(msg.Data)
		if err != nil {
			slog.Warn("finalize_event_invalid", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, requestID); err != nil {
			slog.Error("finalize_handler_failed", "request_id", requestID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeRequestID(data []byte) (string, error) {
	var event domain.SigningEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", fmt.Errorf("decode finalize event: %w", err)
	}
	if strings.TrimSpace(event.RequestID) == "" {
		return "", fmt.Errorf("finalize event has no request id")
	}
	return event.RequestID, nil
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), ".")
	if p == "" {
		return "signflow"
	}
	return p
}
