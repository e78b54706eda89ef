// Package sse exposes the service over HTTP using Server-Sent Events.
// Clients open a long-lived GET stream, learn a per-session message
// endpoint from the first event, and POST JSON-RPC requests there;
// responses come back on the stream as "message" events.
package sse

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vburojevic/uelog/internal/diag"
)

const component = "SSEServer"

// MessageHandler processes one raw JSON-RPC message from a client and
// returns the response body, or nil when no response is due (a
// notification).
type MessageHandler func(sessionID string, message []byte) []byte

// errClientClosed reports a write attempted after the stream handler
// returned; its ResponseWriter must not be touched anymore.
var errClientClosed = errors.New("sse: client stream closed")

type client struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher

	// mu serializes writes; the ping loop and POST dispatch both
	// write to the same stream.
	mu     sync.Mutex
	closed bool
}

func (c *client) send(event, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	if _, err := fmt.Fprint(c.w, ": ping\n\n"); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// close bars any further writes. Called before the handler returns, so
// a concurrent POST dispatch cannot write to a dead stream.
func (c *client) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Server is the HTTP/SSE front end. Construct with NewServer, then
// Start; Stop drains open streams.
type Server struct {
	handler      MessageHandler
	pingInterval time.Duration

	certFile string
	keyFile  string

	mu      sync.Mutex
	clients map[string]*client
	counter int

	srv      *http.Server
	ln       net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server that forwards client messages to handler.
func NewServer(handler MessageHandler) *Server {
	return &Server{
		handler:      handler,
		pingInterval: 15 * time.Second,
		clients:      make(map[string]*client),
		done:         make(chan struct{}),
	}
}

// UseTLS switches the server to HTTPS with the given certificate pair.
func (s *Server) UseTLS(certFile, keyFile string) {
	s.certFile = certFile
	s.keyFile = keyFile
}

// Start binds the listener and serves in the background. Port 0 picks
// an ephemeral port, readable afterwards via Port.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStream)
	mux.HandleFunc("/sse", s.handleStream)
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: mux}

	scheme := "http"
	if s.certFile != "" {
		scheme = "https"
	}
	diag.Logf(component, "Listening on %s://0.0.0.0:%d", scheme, s.Port())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.certFile != "" {
			err = s.srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			diag.Errorf(component, "Server error: %v", err)
		}
	}()
	return nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Stop shuts the server down, closing open streams. Safe to call more
// than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.srv.Shutdown(ctx); err != nil {
				s.srv.Close()
			}
		}
		s.wg.Wait()
	})
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// newSessionID combines a serial with random bytes so ids stay unique
// across restarts.
func (s *Server) newSessionID() string {
	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()

	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("session_%d_%s", n, hex.EncodeToString(buf))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// The mux routes every unknown path to "/"; only the two stream
	// paths serve SSE.
	if r.URL.Path != "/" && r.URL.Path != "/sse" {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodOptions {
		corsHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	corsHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	c := &client{id: s.newSessionID(), w: w, flusher: flusher}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		diag.Logf(component, "Client disconnected: %s", c.id)
	}()

	diag.Logf(component, "Client connected: %s", c.id)

	// The first event tells the client where to POST its messages.
	if err := c.send("endpoint", "/messages?session_id="+c.id); err != nil {
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	response := s.handler(sessionID, body)
	if response != nil {
		s.mu.Lock()
		c := s.clients[sessionID]
		s.mu.Unlock()
		if c != nil {
			if err := c.send("message", string(response)); err != nil {
				diag.Errorf(component, "Failed to deliver response to %s: %v", sessionID, err)
			}
		}
	}

	// Delivery happens on the stream; the POST just acknowledges.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status": "accepted"}`))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "ok"}`))
}

// ClientCount reports the number of open streams.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
