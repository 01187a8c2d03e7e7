package ipc

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/bnema/waykms/internal/logger"
)

// ErrNotRunning is returned when no backend listens on the socket.
var ErrNotRunning = errors.New("waykms is not running")

// Client talks to a running backend
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for path, or for the default socket path when
// path is empty.
func NewClient(path string) (*Client, error) {
	if path == "" {
		var err error
		if path, err = SocketPath(); err != nil {
			return nil, fmt.Errorf("failed to get socket path: %w", err)
		}
	}
	return &Client{socketPath: path, timeout: 5 * time.Second}, nil
}

// Status returns a snapshot of every output.
func (c *Client) Status() ([]OutputStatus, error) {
	resp, err := c.send(NewStatusMessage())
	if err != nil {
		return nil, err
	}
	if resp.Type != TypeStatusResponse {
		return nil, fmt.Errorf("unexpected response type: %s", resp.Type)
	}
	return resp.Outputs, nil
}

// ScheduleFrame requests a frame on output.
func (c *Client) ScheduleFrame(output string) error {
	return c.expectOK(NewFrameMessage(output))
}

// Reload asks the backend to re-read its configuration.
func (c *Client) Reload() error {
	return c.expectOK(NewReloadMessage())
}

func (c *Client) expectOK(msg *Message) error {
	resp, err := c.send(msg)
	if err != nil {
		return err
	}
	if resp.Type != TypeOK {
		return fmt.Errorf("unexpected response type: %s", resp.Type)
	}
	return nil
}

// send sends a message and returns the response. Error responses become
// errors.
func (c *Client) send(msg *Message) (*Message, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("failed to connect to waykms: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debugf("Failed to close control connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}

	if err := writeMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	resp, err := readMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.Type == TypeError {
		return nil, fmt.Errorf("server error: %s", resp.Error)
	}
	return resp, nil
}
