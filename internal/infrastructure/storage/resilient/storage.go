package resilient

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/signflow/internal/core/ports"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

// Storage retries object storage calls behind a circuit breaker. Save
// buffers the payload so every attempt uploads the same bytes.
type Storage struct {
	next     ports.ObjectStorage
	executor *resilience.Executor
	name     string
}

func New(name string, next ports.ObjectStorage, executor *resilience.Executor) *Storage {
	return &Storage{next: next, executor: executor, name: name}
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	payload, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	op := "storage." + s.name + ".save"
	err = s.executor.Execute(ctx, op, func(ctx context.Context) error {
		return s.next.Save(ctx, key, bytes.NewReader(payload))
	}, classify)
	return resilience.AsStorageError(op, err)
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	op := "storage." + s.name + ".open"
	rc, err := resilience.Do(ctx, s.executor, op, func(ctx context.Context) (io.ReadCloser, error) {
		return s.next.Open(ctx, key)
	}, classify)
	if err != nil {
		return nil, resilience.AsStorageError(op, err)
	}
	return rc, nil
}

// classify treats untyped backend failures as transient. A missing object
// is an answer, not an outage.
func classify(err error) resilience.ErrorClassification {
	return resilience.DomainClassifier(resilience.AsStorageError("storage", err))
}
