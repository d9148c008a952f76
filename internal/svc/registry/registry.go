package registry

import (
	"encoding/json"
	"sync"

	"github.com/seventv/relay/internal/events"
)

// Connection is a live stream session handle as seen by the registry.
// Push hands a frame to the session's own delivery queue and must not
// block; it reports false once the session is closing.
type Connection interface {
	SessionID() string
	UserID() string
	DisplayName() string
	Push(t events.Type, data json.RawMessage) bool
	Close(reason string)
}

// Instance is the per-process connection registry. It is authoritative
// only for sessions terminated on this process; a false Send result does
// not mean the user is offline, they may be connected elsewhere.
type Instance interface {
	// Register maps the user to the new session. Any session previously
	// mapped for the user is displaced from the user index and returned
	// so the caller can drive it through its closing path.
	Register(conn Connection) (displaced Connection)
	Unregister(sessionID string)
	Lookup(userID string) (sessionID string, ok bool)
	Send(sessionID string, t events.Type, data json.RawMessage) bool
	BroadcastToAll(t events.Type, data json.RawMessage, filter func(Connection) bool)
	Count() int
}

func New() Instance {
	return &registryInst{
		sessions: map[string]Connection{},
		users:    map[string]string{},
	}
}

type registryInst struct {
	mx sync.RWMutex

	sessions map[string]Connection
	users    map[string]string
}

func (r *registryInst) Register(conn Connection) Connection {
	r.mx.Lock()
	defer r.mx.Unlock()

	var displaced Connection

	if prevID, ok := r.users[conn.UserID()]; ok && prevID != conn.SessionID() {
		displaced = r.sessions[prevID]
	}

	r.sessions[conn.SessionID()] = conn
	r.users[conn.UserID()] = conn.SessionID()

	return displaced
}

func (r *registryInst) Unregister(sessionID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	delete(r.sessions, sessionID)

	// The user index may already point at a newer session
	if cur, ok := r.users[conn.UserID()]; ok && cur == sessionID {
		delete(r.users, conn.UserID())
	}
}

func (r *registryInst) Lookup(userID string) (string, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	id, ok := r.users[userID]

	return id, ok
}

func (r *registryInst) Send(sessionID string, t events.Type, data json.RawMessage) bool {
	r.mx.RLock()
	conn, ok := r.sessions[sessionID]
	r.mx.RUnlock()

	if !ok {
		return false
	}

	return conn.Push(t, data)
}

func (r *registryInst) BroadcastToAll(t events.Type, data json.RawMessage, filter func(Connection) bool) {
	r.mx.RLock()
	conns := make([]Connection, 0, len(r.sessions))

	for _, conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.mx.RUnlock()

	for _, conn := range conns {
		if filter != nil && !filter(conn) {
			continue
		}

		conn.Push(t, data)
	}
}

func (r *registryInst) Count() int {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return len(r.sessions)
}
