package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/seventv/relay/internal/events"
	"github.com/seventv/relay/internal/testutil"
)

type stubConn struct {
	mx        sync.Mutex
	sessionID string
	userID    string
	name      string
	pushed    []events.Type
	reject    bool
	closed    string
}

func (s *stubConn) SessionID() string   { return s.sessionID }
func (s *stubConn) UserID() string      { return s.userID }
func (s *stubConn) DisplayName() string { return s.name }

func (s *stubConn) Push(t events.Type, _ json.RawMessage) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.reject {
		return false
	}

	s.pushed = append(s.pushed, t)

	return true
}

func (s *stubConn) Close(reason string) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closed = reason
}

func (s *stubConn) pushCount() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return len(s.pushed)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := New()

	a := &stubConn{sessionID: "s1", userID: "u1", name: "Alice"}

	testutil.IsNil(t, r.Register(a), "no displaced session for a fresh user")
	testutil.Assert(t, 1, r.Count(), "one session")

	sid, ok := r.Lookup("u1")
	testutil.Assert(t, true, ok, "user indexed")
	testutil.Assert(t, "s1", sid, "lookup resolves the session")

	_, ok = r.Lookup("nobody")
	testutil.Assert(t, false, ok, "unknown user not indexed")
}

func TestRegistryDisplacesSameUser(t *testing.T) {
	r := New()

	a := &stubConn{sessionID: "s1", userID: "u1"}
	b := &stubConn{sessionID: "s2", userID: "u1"}

	testutil.IsNil(t, r.Register(a), "first register")

	displaced := r.Register(b)
	testutil.IsNotNil(t, displaced, "second register displaces the first")
	testutil.Assert(t, "s1", displaced.SessionID(), "the older session is displaced")

	sid, _ := r.Lookup("u1")
	testutil.Assert(t, "s2", sid, "index points at the newer session")

	// The displaced session stays addressable until it unregisters
	// itself on its own closing path
	testutil.Assert(t, 2, r.Count(), "displaced session still present")
	testutil.Assert(t, true, r.Send("s1", events.TypeClose, nil), "displaced session still reachable")

	r.Unregister("s1")
	testutil.Assert(t, 1, r.Count(), "displaced session gone")

	sid, ok := r.Lookup("u1")
	testutil.Assert(t, true, ok, "newer session keeps the index")
	testutil.Assert(t, "s2", sid, "index untouched by the older session's unregister")
}

func TestRegistrySend(t *testing.T) {
	r := New()

	a := &stubConn{sessionID: "s1", userID: "u1"}
	r.Register(a)

	testutil.Assert(t, true, r.Send("s1", events.TypeMessage, []byte(`{}`)), "delivery to a live session")
	testutil.Assert(t, 1, a.pushCount(), "frame pushed")

	testutil.Assert(t, false, r.Send("missing", events.TypeMessage, nil), "unknown session rejected")

	a.reject = true
	testutil.Assert(t, false, r.Send("s1", events.TypeMessage, nil), "a full session reports false")
}

func TestRegistryBroadcast(t *testing.T) {
	r := New()

	a := &stubConn{sessionID: "s1", userID: "u1"}
	b := &stubConn{sessionID: "s2", userID: "u2"}
	c := &stubConn{sessionID: "s3", userID: "u3"}

	r.Register(a)
	r.Register(b)
	r.Register(c)

	r.BroadcastToAll(events.TypeClientsUpdate, []byte(`{}`), nil)

	testutil.Assert(t, 1, a.pushCount(), "first session reached")
	testutil.Assert(t, 1, b.pushCount(), "second session reached")
	testutil.Assert(t, 1, c.pushCount(), "third session reached")

	r.BroadcastToAll(events.TypeClientsUpdate, []byte(`{}`), func(conn Connection) bool {
		return conn.UserID() != "u2"
	})

	testutil.Assert(t, 2, a.pushCount(), "unfiltered session reached again")
	testutil.Assert(t, 1, b.pushCount(), "filtered session skipped")
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unregister("ghost")
	testutil.Assert(t, 0, r.Count(), "empty registry unchanged")
}
