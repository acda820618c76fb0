// Package control exposes a running sentinel daemon over a unix socket so
// the CLI can query status and request audits without opening the ledger.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Command types
const (
	CommandStatus = "status"
	CommandAudit  = "audit"
	CommandClaim  = "claim"
	CommandVerify = "verify"
)

// Command is a request sent to the daemon
type Command struct {
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the daemon's answer. Data holds the command-specific payload.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Decode unmarshals Data into dest
func (r *Response) Decode(dest any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, dest)
}

// HandlerFunc executes a command and returns its payload
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Server listens on a unix socket
type Server struct {
	socketPath string
	handler    HandlerFunc
	logger     zerolog.Logger

	mu       sync.RWMutex
	listener net.Listener
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer creates a server for socketPath. A stale socket left by a
// crashed daemon is removed.
func NewServer(socketPath string, handler HandlerFunc, logger zerolog.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger.With().Str("component", "control").Logger(),
	}, nil
}

// Start begins accepting connections
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to restrict control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.acceptLoop(ctx, listener, s.stopCh, s.doneCh)

	s.logger.Info().Str("socket", s.socketPath).Msg("control server listening")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to set read deadline")
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.send(conn, Response{Message: "failed to decode command", Error: err.Error()})
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	// audits can take as long as a model call
	_ = conn.SetReadDeadline(time.Time{})

	data, err := s.handler(ctx, cmd)
	if err != nil {
		s.logger.Debug().Err(err).Str("command", cmd.Type).Msg("command failed")
		s.send(conn, Response{Message: fmt.Sprintf("command %q failed", cmd.Type), Error: err.Error()})
		return
	}

	resp := Response{Success: true, Message: fmt.Sprintf("command %q completed", cmd.Type)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.send(conn, Response{Message: "failed to encode response", Error: err.Error()})
			return
		}
		resp.Data = raw
	}
	s.send(conn, resp)
}

func (s *Server) send(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send response")
	}
}

// Stop closes the listener, waits for in-flight commands and removes the
// socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	listener := s.listener
	doneCh := s.doneCh
	s.mu.Unlock()

	if err := listener.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing listener")
	}

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("timeout waiting for control server shutdown")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove socket file: %w", err)
	}
	s.logger.Info().Msg("control server stopped")
	return nil
}

// IsRunning reports whether the server is accepting connections
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the socket location
func (s *Server) SocketPath() string {
	return s.socketPath
}
