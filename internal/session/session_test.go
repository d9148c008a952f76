package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/seventv/relay/data/model"
	"github.com/seventv/relay/internal/events"
	"github.com/seventv/relay/internal/svc/auth"
	"github.com/seventv/relay/internal/svc/channelbus"
	"github.com/seventv/relay/internal/svc/presences"
	"github.com/seventv/relay/internal/svc/registry"
	"github.com/seventv/relay/internal/testutil"
)

type fakeTransport struct {
	mx     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) WriteFrame(b []byte) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	cp := make([]byte, len(b))
	copy(cp, b)
	f.frames = append(f.frames, cp)

	return nil
}

func (f *fakeTransport) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.closed = true

	return nil
}

func (f *fakeTransport) frameCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()

	return len(f.frames)
}

func (f *fakeTransport) frame(i int) []byte {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.frames[i]
}

func (f *fakeTransport) lastFrame() []byte {
	f.mx.Lock()
	defer f.mx.Unlock()

	if len(f.frames) == 0 {
		return nil
	}

	return f.frames[len(f.frames)-1]
}

func (f *fakeTransport) isClosed() bool {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.closed
}

type fakePresences struct {
	mx      sync.Mutex
	records map[string]model.PresenceRecordModel
}

func newFakePresences() *fakePresences {
	return &fakePresences{records: map[string]model.PresenceRecordModel{}}
}

func (f *fakePresences) Upsert(_ context.Context, rec model.PresenceRecordModel) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.records[rec.UserID] = rec

	return nil
}

func (f *fakePresences) Remove(_ context.Context, userID string) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	delete(f.records, userID)

	return nil
}

func (f *fakePresences) Get(_ context.Context, userID string) (model.PresenceRecordModel, bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	rec, ok := f.records[userID]

	return rec, ok, nil
}

func (f *fakePresences) GetAll(_ context.Context) (map[string]model.PresenceRecordModel, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	cp := make(map[string]model.PresenceRecordModel, len(f.records))
	for k, v := range f.records {
		cp[k] = v
	}

	return cp, nil
}

func (f *fakePresences) Snapshot(ctx context.Context) ([]model.ActiveClientModel, error) {
	records, _ := f.GetAll(ctx)

	return presences.RecordsToSnapshot(records, time.Minute, time.Now()), nil
}

func (f *fakePresences) has(userID string) bool {
	f.mx.Lock()
	defer f.mx.Unlock()

	_, ok := f.records[userID]

	return ok
}

type fakeSub struct {
	close func()
}

func (f fakeSub) Close() {
	f.close()
}

type fakeBus struct {
	mx       sync.Mutex
	nextID   int
	handlers map[string]map[int]channelbus.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]map[int]channelbus.Handler{}}
}

func (f *fakeBus) Subscribe(_ context.Context, channel string, h channelbus.Handler) (channelbus.Subscription, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.nextID++
	id := f.nextID

	if f.handlers[channel] == nil {
		f.handlers[channel] = map[int]channelbus.Handler{}
	}
	f.handlers[channel][id] = h

	return fakeSub{close: func() {
		f.mx.Lock()
		defer f.mx.Unlock()

		delete(f.handlers[channel], id)
	}}, nil
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	f.mx.Lock()
	hs := make([]channelbus.Handler, 0, len(f.handlers[channel]))

	for _, h := range f.handlers[channel] {
		hs = append(hs, h)
	}
	f.mx.Unlock()

	for _, h := range hs {
		h(channel, payload)
	}

	return int64(len(hs)), nil
}

func (f *fakeBus) UserChannel(userID string) string {
	return "user:" + userID + ":messages"
}

func (f *fakeBus) GlobalChannel() string {
	return "global:messages"
}

func waitFor(t *testing.T, cond func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(time.Second * 3)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(time.Millisecond * 5)
	}

	t.Fatalf("timed out waiting: %s", message)
}

func frameType(b []byte) string {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return ""
	}

	return string(bytes.TrimPrefix(b[:i], []byte("event: ")))
}

func newTestSession(id string, identity auth.Identity, reg registry.Instance, pres *fakePresences, bus *fakeBus) *Session {
	return New(id, identity, Options{
		Registry:          reg,
		Presences:         pres,
		Bus:               bus,
		HeartbeatInterval: time.Minute,
		ClientTimeout:     time.Minute * 5,
		DeliveryBuffer:    8,
	})
}

func TestSessionLifecycle(t *testing.T) {
	reg := registry.New()
	pres := newFakePresences()
	bus := newFakeBus()
	tr := &fakeTransport{}

	s := newTestSession("sess-1", auth.Identity{ID: "u1", Name: "Alice"}, reg, pres, bus)

	testutil.Assert(t, StateConnecting, s.State(), "session starts connecting")

	go s.Run(context.Background(), tr)

	waitFor(t, func() bool { return s.State() == StateOpen }, "session open")

	testutil.Assert(t, "connected", frameType(tr.frame(0)), "first frame is connected")
	testutil.Assert(t, 1, reg.Count(), "session registered")
	testutil.Assert(t, true, pres.has("u1"), "presence upserted")

	sid, ok := reg.Lookup("u1")
	testutil.Assert(t, true, ok, "user mapped")
	testutil.Assert(t, "sess-1", sid, "user maps to session")

	// A delivery on the user channel reaches the stream as a message frame
	n, err := bus.Publish(context.Background(), bus.UserChannel("u1"), []byte(`{"text":"hi"}`))
	testutil.IsNil(t, err, "publish ok")
	testutil.Assert(t, int64(1), n, "one subscriber")

	waitFor(t, func() bool { return tr.frameCount() >= 2 }, "message delivered")
	testutil.Assert(t, "message", frameType(tr.frame(1)), "second frame is message")

	s.Close("bye")

	<-s.Done()

	testutil.Assert(t, StateClosed, s.State(), "session closed")
	testutil.Assert(t, 0, reg.Count(), "session unregistered")
	testutil.Assert(t, false, pres.has("u1"), "presence removed")
	testutil.Assert(t, true, tr.isClosed(), "transport closed")
	testutil.Assert(t, "close", frameType(tr.lastFrame()), "close frame sent last")

	if !bytes.Contains(tr.lastFrame(), []byte("bye")) {
		t.Fatalf("close frame is missing the reason: %s", tr.lastFrame())
	}
}

func TestSessionDisplacedByNewerConnection(t *testing.T) {
	reg := registry.New()
	pres := newFakePresences()
	bus := newFakeBus()

	trA := &fakeTransport{}
	a := newTestSession("sess-a", auth.Identity{ID: "u1", Name: "Alice"}, reg, pres, bus)

	go a.Run(context.Background(), trA)
	waitFor(t, func() bool { return a.State() == StateOpen }, "first session open")

	trB := &fakeTransport{}
	b := newTestSession("sess-b", auth.Identity{ID: "u1", Name: "Alice"}, reg, pres, bus)

	go b.Run(context.Background(), trB)
	waitFor(t, func() bool { return b.State() == StateOpen }, "second session open")

	<-a.Done()

	testutil.Assert(t, StateClosed, a.State(), "old session closed")
	testutil.Assert(t, "close", frameType(trA.lastFrame()), "old session got a close frame")

	sid, ok := reg.Lookup("u1")
	testutil.Assert(t, true, ok, "user still mapped")
	testutil.Assert(t, "sess-b", sid, "user maps to the new session")
	testutil.Assert(t, true, pres.has("u1"), "successor's presence record survives")

	b.Close("test over")
	<-b.Done()
}

func TestSessionDirectDeliveryIsolation(t *testing.T) {
	reg := registry.New()
	pres := newFakePresences()
	bus := newFakeBus()

	trA := &fakeTransport{}
	a := newTestSession("sess-a", auth.Identity{ID: "uA", Name: "Alice"}, reg, pres, bus)
	go a.Run(context.Background(), trA)

	trB := &fakeTransport{}
	b := newTestSession("sess-b", auth.Identity{ID: "uB", Name: "Bob"}, reg, pres, bus)
	go b.Run(context.Background(), trB)

	waitFor(t, func() bool { return a.State() == StateOpen && b.State() == StateOpen }, "both sessions open")

	// A message on B's channel must never reach A
	_, err := bus.Publish(context.Background(), bus.UserChannel("uB"), []byte(`{"text":"secret"}`))
	testutil.IsNil(t, err, "publish ok")

	waitFor(t, func() bool { return trB.frameCount() >= 2 }, "target received the message")
	testutil.Assert(t, "message", frameType(trB.lastFrame()), "target got a message frame")

	// ...while the global channel reaches everyone
	_, err = bus.Publish(context.Background(), bus.GlobalChannel(), []byte(`{"text":"hi all"}`))
	testutil.IsNil(t, err, "broadcast ok")

	waitFor(t, func() bool { return trA.frameCount() >= 2 && trB.frameCount() >= 3 }, "broadcast reached both")

	for i := 1; i < trA.frameCount(); i++ {
		if bytes.Contains(trA.frame(i), []byte("secret")) {
			t.Fatalf("direct message leaked to another user's stream: %s", trA.frame(i))
		}
	}

	a.Close("test over")
	b.Close("test over")
	<-a.Done()
	<-b.Done()
}

func TestSessionContextCancelTearsDown(t *testing.T) {
	reg := registry.New()
	pres := newFakePresences()
	bus := newFakeBus()
	tr := &fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())

	s := newTestSession("sess-ctx", auth.Identity{ID: "u2", Name: "Bob"}, reg, pres, bus)

	go s.Run(ctx, tr)
	waitFor(t, func() bool { return s.State() == StateOpen }, "session open")

	cancel()

	<-s.Done()

	testutil.Assert(t, StateClosed, s.State(), "session closed")
	testutil.Assert(t, 0, reg.Count(), "session unregistered")
	testutil.Assert(t, false, pres.has("u2"), "presence removed")
}

func TestSessionPushRejectedWhenNotOpen(t *testing.T) {
	s := newTestSession("sess-x", auth.Identity{ID: "u3", Name: "Cara"}, registry.New(), newFakePresences(), newFakeBus())

	testutil.Assert(t, false, s.Push(events.TypeMessage, []byte(`{}`)), "push before open rejected")

	s.Close("never ran")
	testutil.Assert(t, false, s.Push(events.TypeMessage, []byte(`{}`)), "push after close rejected")
}

func TestSessionHeartbeatTicks(t *testing.T) {
	reg := registry.New()
	pres := newFakePresences()
	bus := newFakeBus()
	tr := &fakeTransport{}

	s := New("sess-hb", auth.Identity{ID: "u4", Name: "Dee"}, Options{
		Registry:          reg,
		Presences:         pres,
		Bus:               bus,
		HeartbeatInterval: time.Millisecond * 20,
		ClientTimeout:     time.Minute,
		DeliveryBuffer:    8,
	})

	go s.Run(context.Background(), tr)
	waitFor(t, func() bool { return s.State() == StateOpen }, "session open")

	seen := func(want string) func() bool {
		return func() bool {
			for i := 0; i < tr.frameCount(); i++ {
				if frameType(tr.frame(i)) == want {
					return true
				}
			}

			return false
		}
	}

	waitFor(t, seen("heartbeat"), "heartbeat frame")
	waitFor(t, seen("clients_update"), "clients_update frame")

	s.Close("test over")
	<-s.Done()
}
