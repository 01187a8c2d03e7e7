package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	mu        sync.Mutex
	outputs   []OutputStatus
	frames    []string
	reloads   int
	statusErr error
	frameErr  error
}

func (m *mockHandler) Status(context.Context) ([]OutputStatus, error) {
	return m.outputs, m.statusErr
}

func (m *mockHandler) ScheduleFrame(_ context.Context, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, output)
	return m.frameErr
}

func (m *mockHandler) Reload(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return nil
}

func startServer(t *testing.T, h Handler) (*SocketServer, *Client) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waykms.sock")
	srv, err := NewSocketServer(path, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	c, err := NewClient(path)
	require.NoError(t, err)
	return srv, c
}

func TestClientServer(t *testing.T) {
	h := &mockHandler{outputs: []OutputStatus{{GPU: "card0", Name: "eDP-1", State: 2, CrtcID: 51}}}
	srv, c := startServer(t, h)

	info, err := os.Stat(srv.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	outputs, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, h.outputs, outputs)

	require.NoError(t, c.ScheduleFrame("eDP-1"))
	require.NoError(t, c.Reload())
	assert.Equal(t, []string{"eDP-1"}, h.frames)
	assert.Equal(t, 1, h.reloads)
}

func TestEmptyStatus(t *testing.T) {
	_, c := startServer(t, &mockHandler{})
	outputs, err := c.Status()
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestHandlerErrorsReachClient(t *testing.T) {
	h := &mockHandler{statusErr: errors.New("backend closed"), frameErr: errors.New("no output named DP-9")}
	_, c := startServer(t, h)

	_, err := c.Status()
	assert.ErrorContains(t, err, "backend closed")
	assert.ErrorContains(t, c.ScheduleFrame("DP-9"), "no output named DP-9")
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv, _ := startServer(t, &mockHandler{})

	resp := srv.handleMessage(context.Background(), &Message{Type: "switch"})
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, "unknown message type")

	resp = srv.handleMessage(context.Background(), NewFrameMessage(""))
	assert.Equal(t, TypeError, resp.Type)
}

func TestClientNotRunning(t *testing.T) {
	c, err := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	require.NoError(t, err)
	_, err = c.Status()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopRemovesSocket(t *testing.T) {
	srv, _ := startServer(t, &mockHandler{})
	srv.Stop()
	_, err := os.Stat(srv.Path())
	assert.True(t, os.IsNotExist(err))
	srv.Stop()
}

func TestSocketPathPrefersRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	path, err := SocketPath()
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/waykms.sock", path)
}
