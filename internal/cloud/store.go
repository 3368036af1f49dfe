// Package cloud is the cloud replica: a document store holding one JSON
// document per record, grouped in collections and indexed by owner.
//
// Redis is the networked DocumentStore used in deployments. Memory is an
// in-process store with fault injection for tests and the load test; it is
// not durable. Unconfigured stands in when no cloud is set up. Replica layers
// typed record operations on top of any of them.
package cloud

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrNotConfigured is returned by Unconfigured.
	ErrNotConfigured = errors.New("no cloud configured")
)

// DocumentStore is the primitive contract of a document-oriented remote
// store. Put is an idempotent full-document replace.
type DocumentStore interface {
	Put(ctx context.Context, collection, id, userID string, doc []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
	FindByUser(ctx context.Context, collection, userID string) ([][]byte, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Unconfigured rejects every operation with ErrNotConfigured. Pair it with a
// closed connectivity gate so writes are queued rather than failed.
type Unconfigured struct{}

func (Unconfigured) Put(context.Context, string, string, string, []byte) error {
	return ErrNotConfigured
}

func (Unconfigured) Get(context.Context, string, string) ([]byte, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) FindByUser(context.Context, string, string) ([][]byte, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Delete(context.Context, string, string) error { return ErrNotConfigured }

func (Unconfigured) Close() error { return nil }
