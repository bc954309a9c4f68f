//go:build !gcp

package gcs

import (
	"context"
	"errors"
	"io"
)

type Config struct {
	Bucket string
	Prefix string
}

// Storage is unavailable unless the binary is built with -tags gcp.
type Storage struct{}

var errDisabled = errors.New("gcs storage requires building with -tags gcp")

func New(context.Context, Config) (*Storage, error) { return nil, errDisabled }

func (*Storage) Save(context.Context, string, io.Reader) error { return errDisabled }

func (*Storage) Open(context.Context, string) (io.ReadCloser, error) { return nil, errDisabled }

func (*Storage) Close() error { return nil }
