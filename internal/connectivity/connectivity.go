// Package connectivity reports network reachability as a cheap, cached
// in-memory read.
//
// Online never blocks: a background probe refreshes the cached flag. A true
// result does not promise that the next request will succeed, so callers
// still treat every remote call as fallible.
package connectivity

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studysync/studysync/internal/logging"
)

// Gate reports whether remote replicas are worth trying.
type Gate interface {
	Online() bool
}

// Static is a fixed gate.
type Static bool

func (s Static) Online() bool { return bool(s) }

// Monitor caches reachability and notifies subscribers when it is regained.
type Monitor struct {
	online atomic.Bool

	mu        sync.Mutex
	subs      []chan struct{}
	listeners []func(online bool)

	hosts   []string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	log     *logging.Logger
}

// NewMonitor returns a monitor probing hosts ("host:port"). It starts in the
// initial state given.
func NewMonitor(hosts []string, initial bool, log *logging.Logger) *Monitor {
	d := &net.Dialer{}
	m := &Monitor{
		hosts:   hosts,
		timeout: 3 * time.Second,
		dial:    d.DialContext,
		log:     logging.OrNop(log).With("component", "connectivity"),
	}
	m.online.Store(initial)
	return m
}

// Online returns the cached reachability flag.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set records a reachability observation. An offline to online transition
// wakes every Regained subscriber.
func (m *Monitor) Set(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}
	m.log.Info("connectivity changed", "online", online)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fn := range m.listeners {
		fn(online)
	}
	if !online {
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Regained returns a channel that receives whenever connectivity comes back.
// Signals coalesce if the subscriber is slow.
func (m *Monitor) Regained() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// OnChange registers fn to be called on every transition, in either
// direction. fn runs synchronously inside Set and must not block.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Probe dials the configured hosts and reports whether any answered.
func (m *Monitor) Probe(ctx context.Context) bool {
	for _, host := range m.hosts {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		conn, err := m.dial(dctx, "tcp", host)
		cancel()
		if err == nil {
			_ = conn.Close()
			return true
		}
		m.log.Debug("probe failed", "host", host, "error", err)
	}
	return false
}

// Run probes every interval until ctx is done. With no hosts configured the
// monitor keeps whatever state Set last recorded.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if len(m.hosts) == 0 {
		<-ctx.Done()
		return
	}
	m.Set(m.Probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(m.Probe(ctx))
		}
	}
}
