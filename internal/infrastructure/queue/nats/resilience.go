package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

// Connection states a publish recovers from once the client reconnects.
var transientPublishErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
}

// typePublishError reports transient connection failures as storage errors.
// Anything else (bad subject, oversized payload) stays untyped and terminal.
func typePublishError(err error) error {
	if err == nil || domain.KindOf(err) != nil {
		return err
	}
	for _, transient := range transientPublishErrors {
		if errors.Is(err, transient) {
			return domain.WrapError(domain.ErrStorage, "nats publish", err)
		}
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrStorage, "nats publish", err)
	}
	return err
}

func classifyPublish(err error) resilience.ErrorClassification {
	return resilience.DomainClassifier(typePublishError(err))
}
