package kv

import (
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// Memory is a Store backed by an embedded miniredis server. The factory
// installs it when the live store is disabled or its circuit is open, so the
// rest of the system runs the exact same code path against local memory.
type Memory struct {
	*Redis
	srv *miniredis.Miniredis
}

// NewMemory starts the embedded server and connects a client to it.
func NewMemory() (*Memory, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("kv memory: %w", err)
	}
	return &Memory{
		Redis: NewRedis(Options{Addr: srv.Addr()}),
		srv:   srv,
	}, nil
}

// FastForward advances the embedded server's TTL clock. The in-memory store
// only expires keys on this clock, which is acceptable for a degraded-mode
// fallback and exact for tests.
func (m *Memory) FastForward(d time.Duration) { m.srv.FastForward(d) }

// Addr returns the embedded server's address.
func (m *Memory) Addr() string { return m.srv.Addr() }

// Close shuts down the client and the embedded server.
func (m *Memory) Close() error {
	err := m.Redis.Close()
	m.srv.Close()
	return err
}
