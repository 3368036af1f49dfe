package cloud

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// ErrInjected is returned by Memory while a fault is armed.
var ErrInjected = errors.New("injected cloud failure")

type memDoc struct {
	owner string
	doc   []byte
}

// Memory is an in-process DocumentStore. Faults can be armed to simulate an
// unreachable cloud.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]memDoc
	failing     bool
	failNext    int
	puts        int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memDoc)}
}

// SetFailing makes every operation fail until called with false.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// FailNext makes the next n operations fail.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Puts returns how many successful Put calls the store has served.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Len returns the number of documents in collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

// must hold m.mu
func (m *Memory) fault(op, collection, id string) error {
	if m.failing {
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, ErrInjected)
	}
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, ErrInjected)
	}
	return nil
}

func (m *Memory) Put(ctx context.Context, collection, id, userID string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("put", collection, id); err != nil {
		return err
	}
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]memDoc)
		m.collections[collection] = coll
	}
	coll[id] = memDoc{owner: userID, doc: slices.Clone(doc)}
	m.puts++
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("get", collection, id); err != nil {
		return nil, err
	}
	d, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return slices.Clone(d.doc), nil
}

// FindByUser returns documents ordered by id so results are stable.
func (m *Memory) FindByUser(ctx context.Context, collection, userID string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("find", collection, userID); err != nil {
		return nil, err
	}
	coll := m.collections[collection]
	ids := make([]string, 0, len(coll))
	for id, d := range coll {
		if d.owner == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	docs := make([][]byte, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, slices.Clone(coll[id].doc))
	}
	return docs, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("delete", collection, id); err != nil {
		return err
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Close() error { return nil }
