package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession implements session.Storage backed by an in-memory byte
// slice. The orchestrator seeds it with the blob decrypted from the
// database and snapshots it back after gotd updates it.
type memorySession struct {
	data []byte
	mux  sync.RWMutex
}

// LoadSession retrieves session data from memory.
func (m *memorySession) LoadSession(ctx context.Context) ([]byte, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if len(m.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// StoreSession stores session data in memory.
func (m *memorySession) StoreSession(ctx context.Context, data []byte) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

// Bytes returns a copy of the current session blob, or nil when empty.
func (m *memorySession) Bytes() []byte {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if len(m.data) == 0 {
		return nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
