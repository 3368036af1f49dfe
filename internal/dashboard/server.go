// Package dashboard serves a live view of the reconciliation engine over
// WebSocket.
//
// The server broadcasts record changes, push outcomes, merges, sync
// completions, local replica statistics and connectivity changes to every
// connected client. Handler turns engine events into these messages.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/studysync/studysync/internal/logging"
)

// MessageType names a dashboard message.
type MessageType string

const (
	// MessageTypeRecordUpdate: a record was saved, deleted or merged in.
	MessageTypeRecordUpdate MessageType = "record_update"
	// MessageTypePushResult: cloud and secondary outcomes of one push.
	MessageTypePushResult MessageType = "push_result"
	// MessageTypeMerge: summary of one pull.
	MessageTypeMerge MessageType = "merge"
	// MessageTypeSyncComplete: a full sync finished.
	MessageTypeSyncComplete MessageType = "sync_complete"
	// MessageTypeStats: local replica statistics.
	MessageTypeStats MessageType = "stats"
	// MessageTypeConnectivity: the network came or went.
	MessageTypeConnectivity MessageType = "connectivity"
)

// Message is the envelope every client receives.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize   = 100
	outboxSize  = 32
	sendTimeout = 5 * time.Second
)

// client is one WebSocket subscriber. Its writer drains out; a client whose
// outbox fills up is disconnected rather than slowing the others down.
type client struct {
	conn *websocket.Conn
	out  chan []byte
	gone chan struct{}
	once sync.Once
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.gone)
		_ = c.conn.Close(code, reason)
	})
}

// Server fans dashboard messages out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	log      *logging.Logger

	queue chan Message

	mu      sync.RWMutex
	clients map[*client]struct{}
	welcome func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Host to bind. Empty binds all interfaces.
	Host string
	// Port to listen on. 0 picks a free port.
	Port   int
	Logger *logging.Logger
}

// DefaultConfig listens on port 8081.
func DefaultConfig() *Config {
	return &Config{Port: 8081}
}

// NewServer returns a server that is not yet listening.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		log:     logging.OrNop(cfg.Logger).With("component", "dashboard"),
		queue:   make(chan Message, queueSize),
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetWelcome sets the message sent to each client as it connects. Without
// one, clients get an empty stats message.
func (s *Server) SetWelcome(fn func() Message) {
	s.mu.Lock()
	s.welcome = fn
	s.mu.Unlock()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.log.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server failed", "error", err)
		}
	}()
	return nil
}

// Handler returns the HTTP routes: /ws, /health and /.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWebSocket)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/", s.serveIndex)
	return mux
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", serr)
		}
	}
	s.wg.Wait()
	s.log.Info("dashboard stopped")
	return err
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn("dashboard queue full, dropping message", "type", string(msg.Type))
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.queue:
		}

		data, err := encode(msg)
		if err != nil {
			s.log.Error("failed to encode message", "type", string(msg.Type), "error", err)
			continue
		}

		var slow []*client
		s.mu.RLock()
		for c := range s.clients {
			select {
			case c.out <- data:
			default:
				slow = append(slow, c)
			}
		}
		s.mu.RUnlock()
		for _, c := range slow {
			s.log.Warn("dashboard client too slow, disconnecting")
			s.drop(c, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, out: make(chan []byte, outboxSize), gone: make(chan struct{})}

	s.mu.Lock()
	welcome := Message{Type: MessageTypeStats}
	if s.welcome != nil {
		welcome = s.welcome()
	}
	if data, err := encode(welcome); err == nil {
		// The outbox is empty, so the welcome is always first.
		c.out <- data
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info("dashboard client connected", "clients", n)

	go s.write(c)
	go s.read(c)
}

func (s *Server) write(c *client) {
	for {
		select {
		case <-c.gone:
			return
		case <-s.ctx.Done():
			return
		case data := <-c.out:
			ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("dashboard write failed", "error", err)
				s.drop(c, websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// read discards client frames. It returns once the peer goes away.
func (s *Server) read(c *client) {
	defer s.drop(c, websocket.StatusNormalClosure, "")
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.close(code, reason)
	if ok {
		s.log.Info("dashboard client disconnected", "clients", n)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{
		"service":   "studysync dashboard",
		"websocket": "ws://" + r.Host + "/ws",
		"health":    "/health",
	})
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
