// Package registry tracks live subscription connections per user.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one live subscription socket. It is owned by the Registry for
// its whole lifetime; other components query by user id, never by connection.
type Connection struct {
	ID            string
	UserID        string
	DeviceLabel   string
	EstablishedAt time.Time
}

// Registry is the process-wide table of live connections. A connection id
// appears under at most one user, and users with no connections have no entry.
type Registry struct {
	mu    sync.Mutex
	conns map[string][]Connection // userId → connections
}

func New() *Registry {
	return &Registry{conns: make(map[string][]Connection)}
}

// Add registers a fresh connection for the user and returns its generated id
// together with the resulting connection count. The count is taken under the
// same lock as the mutation: two concurrent adds can never both observe a
// 0→1 crossing.
func (r *Registry) Add(userID, deviceLabel string) (connID string, count int) {
	conn := Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		DeviceLabel:   deviceLabel,
		EstablishedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = append(r.conns[userID], conn)
	return conn.ID, len(r.conns[userID])
}

// Remove deletes the matching connection and returns the resulting count plus
// whether anything was removed. Removing an unknown id is a warn-logged no-op
// with removed=false — disconnects can race with process restarts or duplicate
// event delivery, so this is benign, but callers must not treat it as a
// crossing into count zero.
func (r *Registry) Remove(userID, connID string) (count int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[userID]
	if ok {
		for i, c := range conns {
			if c.ID == connID {
				conns = append(conns[:i], conns[i+1:]...)
				if len(conns) == 0 {
					delete(r.conns, userID)
				} else {
					r.conns[userID] = conns
				}
				return len(conns), true
			}
		}
	}

	slog.Warn("Connection not found on remove", "user", userID, "connId", connID)
	return len(conns), false
}

// Count reports the user's live connection count, 0 if absent.
func (r *Registry) Count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// Connections returns a snapshot of the user's live connections.
func (r *Registry) Connections(userID string) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.conns[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}
