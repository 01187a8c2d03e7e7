package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/bnema/waykms/internal/logger"
)

// Handler answers control requests. Every method runs on the connection's
// goroutine and must be safe for concurrent use.
type Handler interface {
	Status(ctx context.Context) ([]OutputStatus, error)
	ScheduleFrame(ctx context.Context, output string) error
	Reload(ctx context.Context) error
}

// SocketServer handles incoming control connections
type SocketServer struct {
	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	handler    Handler
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	running    bool
}

// NewSocketServer creates a server listening on path, or on the default
// socket path when path is empty.
func NewSocketServer(path string, handler Handler) (*SocketServer, error) {
	if path == "" {
		var err error
		if path, err = SocketPath(); err != nil {
			return nil, fmt.Errorf("failed to get socket path: %w", err)
		}
	}
	return &SocketServer{socketPath: path, handler: handler}, nil
}

// Path returns the socket path.
func (s *SocketServer) Path() string { return s.socketPath }

// Start starts the socket server
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Remove a stale socket left by a crashed instance
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	logger.Debug("control socket listening", "path", s.socketPath)
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file.
func (s *SocketServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
	os.RemoveAll(s.socketPath)
}

func (s *SocketServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorf("Failed to accept connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// unblock the read below on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, err := readMessage(conn)
		if err != nil {
			logger.Debugf("Connection closed or read error: %v", err)
			return
		}
		if err := writeMessage(conn, s.handleMessage(ctx, msg)); err != nil {
			logger.Errorf("Failed to send response: %v", err)
			return
		}
	}
}

// handleMessage processes a single message and returns a response
func (s *SocketServer) handleMessage(ctx context.Context, msg *Message) *Message {
	switch msg.Type {
	case TypeStatus:
		outputs, err := s.handler.Status(ctx)
		if err != nil {
			return NewErrorMessage("%v", err)
		}
		if outputs == nil {
			outputs = []OutputStatus{}
		}
		return &Message{Type: TypeStatusResponse, Outputs: outputs}

	case TypeFrame:
		if msg.Output == "" {
			return NewErrorMessage("frame request without an output")
		}
		if err := s.handler.ScheduleFrame(ctx, msg.Output); err != nil {
			return NewErrorMessage("%v", err)
		}
		return &Message{Type: TypeOK}

	case TypeReload:
		if err := s.handler.Reload(ctx); err != nil {
			return NewErrorMessage("%v", err)
		}
		return &Message{Type: TypeOK}

	default:
		return NewErrorMessage("unknown message type: %s", msg.Type)
	}
}

// SocketPath returns $XDG_RUNTIME_DIR/waykms.sock, or
// /tmp/waykms-{username}.sock without a runtime dir.
func SocketPath() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "waykms.sock"), nil
	}
	currentUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join("/tmp", fmt.Sprintf("waykms-%s.sock", currentUser.Username)), nil
}
