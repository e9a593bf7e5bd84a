package server

import (
	"context"
	"sync"
)

// Manager owns a process-wide server instance behind the start/stop/status
// control surface. Start is idempotent: a second call while a server is
// running returns the existing instance.
type Manager struct {
	mu  sync.Mutex
	srv *Server
}

// Start creates and starts a server with cfg, or returns the already-running
// instance.
func (m *Manager) Start(cfg Config) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.srv != nil {
		return m.srv, nil
	}

	srv := New(cfg)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	m.srv = srv
	return srv, nil
}

// Stop shuts down the running server, if any, and clears the instance.
// Stopping an already-stopped manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.srv == nil {
		return nil
	}
	err := m.srv.Shutdown(ctx)
	m.srv = nil
	return err
}

// Current returns the running server, or nil.
func (m *Manager) Current() *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srv
}

// defaultManager backs the package-level control surface used by hosts that
// want a single adapter per process.
var defaultManager Manager

// StartServer starts the process-wide server, or returns the running instance.
func StartServer(cfg Config) (*Server, error) { return defaultManager.Start(cfg) }

// StopServer stops the process-wide server.
func StopServer(ctx context.Context) error { return defaultManager.Stop(ctx) }

// GetServer returns the process-wide server, or nil when none is running.
func GetServer() *Server { return defaultManager.Current() }
