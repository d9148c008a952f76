package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/seventv/relay/data/model"
	"github.com/seventv/relay/internal/events"
	"github.com/seventv/relay/internal/svc/auth"
	"github.com/seventv/relay/internal/svc/channelbus"
	"github.com/seventv/relay/internal/svc/presences"
	"github.com/seventv/relay/internal/svc/prometheus"
	"github.com/seventv/relay/internal/svc/registry"
	"go.uber.org/zap"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNDOCUMENTED_STATE"
	}
}

// Transport is the write side of one long-lived client stream.
type Transport interface {
	WriteFrame(b []byte) error
	Close() error
}

type Options struct {
	Registry  registry.Instance
	Presences presences.Instance
	Bus       channelbus.Instance
	Metrics   prometheus.Instance

	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	DeliveryBuffer    int
}

type frame struct {
	t    events.Type
	data json.RawMessage
}

// Session drives one client's stream: CONNECTING -> OPEN -> CLOSING ->
// CLOSED. All writes happen on the goroutine running Run; other
// goroutines only enqueue frames or request closure.
type Session struct {
	id       string
	identity auth.Identity
	opt      Options

	state        atomic.Int32
	lastActivity atomic.Int64

	queue     chan frame
	closing   chan struct{}
	closeOnce sync.Once
	reason    atomic.Value

	done chan struct{}
}

func New(id string, identity auth.Identity, opt Options) *Session {
	if opt.DeliveryBuffer <= 0 {
		opt.DeliveryBuffer = 64
	}

	s := &Session{
		id:       id,
		identity: identity,
		opt:      opt,
		queue:    make(chan frame, opt.DeliveryBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.state.Store(int32(StateConnecting))
	s.touch()

	return s
}

func (s *Session) SessionID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.identity.ID
}

func (s *Session) DisplayName() string {
	return s.identity.Name
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) LastActivity() time.Time {
	return time.UnixMilli(s.lastActivity.Load())
}

// Done unblocks once the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// Push enqueues a frame for delivery on the session's own goroutine.
// It never blocks; a session that is not OPEN, or whose queue is full,
// reports false.
func (s *Session) Push(t events.Type, data json.RawMessage) bool {
	if s.State() != StateOpen {
		return false
	}

	select {
	case s.queue <- frame{t: t, data: data}:
		return true
	default:
		if s.opt.Metrics != nil {
			s.opt.Metrics.MessagesDropped().Inc()
		}

		zap.S().Warnw("session, delivery queue full",
			"session_id", s.id,
			"user_id", s.identity.ID,
		)

		return false
	}
}

// Close requests the CLOSING transition. Safe to call from any goroutine
// and from multiple racing sources; only the first reason wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)

		// Connecting or Open -> Closing, whichever we were in
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
		s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))

		close(s.closing)
	})
}

func (s *Session) closeReason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}

	return "connection closed"
}

// Run owns the transport until the session is CLOSED. The caller's ctx
// cancels on client abort or process shutdown.
func (s *Session) Run(ctx context.Context, t Transport) {
	l := zap.S().With(
		"session_id", s.id,
		"user_id", s.identity.ID,
	)

	// Establish: connected frame first, a client that never saw it
	// should not be registered anywhere
	if err := s.writeEvent(t, events.TypeConnected, events.ConnectedPayload{
		SessionID: s.id,
		UserID:    s.identity.ID,
		Timestamp: events.Timestamp(time.Now()),
	}); err != nil {
		l.Warnw("session, connected frame rejected", "error", err)
		s.Close("write failed")
		s.teardown(t, l, nil)

		return
	}

	if err := s.opt.Presences.Upsert(ctx, s.presenceRecord()); err != nil {
		// Presence is best-effort, the stream still serves
		l.Errorw("session, presence upsert failed", "error", err)
	}

	if displaced := s.opt.Registry.Register(s); displaced != nil {
		displaced.Close("session superseded by a newer connection")
	}

	subs := make([]channelbus.Subscription, 0, 2)

	for _, channel := range []string{
		s.opt.Bus.UserChannel(s.identity.ID),
		s.opt.Bus.GlobalChannel(),
	} {
		sub, err := s.opt.Bus.Subscribe(ctx, channel, func(_ string, payload []byte) {
			s.Push(events.TypeMessage, payload)
		})
		if err != nil {
			l.Errorw("session, subscribe failed",
				"channel", channel,
				"error", err,
			)

			continue
		}

		subs = append(subs, sub)
	}

	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))

	if s.opt.Metrics != nil {
		s.opt.Metrics.SessionsTotal().Inc()
		s.opt.Metrics.SessionsOpen().Inc()

		defer s.opt.Metrics.SessionsOpen().Dec()
	}

	l.Infow("session open")

	ticker := time.NewTicker(s.opt.HeartbeatInterval)
	defer ticker.Stop()

	for s.State() == StateOpen {
		select {
		case <-ctx.Done():
			s.Close("connection closed")
		case <-s.closing:
			// fallthrough to teardown via loop condition
		case f := <-s.queue:
			if err := s.writeRaw(t, f.t, f.data); err != nil {
				l.Warnw("session, write failed", "error", err)
				s.Close("write failed")

				break
			}

			if s.opt.Metrics != nil && f.t == events.TypeMessage {
				s.opt.Metrics.MessagesDelivered().Inc()
			}
		case <-ticker.C:
			s.heartbeat(ctx, t, l)
		}
	}

	s.teardown(t, l, subs)
}

func (s *Session) heartbeat(ctx context.Context, t Transport, l *zap.SugaredLogger) {
	if err := s.writeEvent(t, events.TypeHeartbeat, events.HeartbeatPayload{
		Timestamp: events.Timestamp(time.Now()),
	}); err != nil {
		l.Warnw("session, heartbeat write failed", "error", err)
		s.Close("write failed")

		return
	}

	if err := s.opt.Presences.Upsert(ctx, s.presenceRecord()); err != nil {
		l.Errorw("session, presence refresh failed", "error", err)
	}

	if snapshot, err := s.opt.Presences.Snapshot(ctx); err != nil {
		l.Errorw("session, presence snapshot failed", "error", err)
	} else if err := s.writeEvent(t, events.TypeClientsUpdate, events.ClientsUpdatePayload{
		Clients: snapshot,
	}); err != nil {
		l.Warnw("session, clients_update write failed", "error", err)
		s.Close("write failed")

		return
	}

	if s.opt.ClientTimeout > 0 && time.Since(s.LastActivity()) > s.opt.ClientTimeout {
		s.Close("client timed out")
	}
}

// teardown runs the CLOSING steps in order, each fault tolerant, then
// marks the session CLOSED. It executes exactly once, on the Run
// goroutine, which owns the transport.
func (s *Session) teardown(t Transport, l *zap.SugaredLogger, subs []channelbus.Subscription) {
	s.Close("connection closed")

	var result *multierror.Error

	for _, sub := range subs {
		sub.Close()
	}

	s.opt.Registry.Unregister(s.id)

	// The parent ctx is often already canceled here; cleanup still has
	// to reach redis
	cctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	// A displaced session must not wipe the record its successor just
	// wrote; only the current owner removes it
	if rec, ok, err := s.opt.Presences.Get(cctx, s.identity.ID); err != nil {
		result = multierror.Append(result, err)
	} else if ok && rec.SessionID == s.id {
		if err := s.opt.Presences.Remove(cctx, s.identity.ID); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := s.writeEvent(t, events.TypeClose, events.ClosePayload{
		Message:   s.closeReason(),
		Timestamp: events.Timestamp(time.Now()),
	}); err != nil {
		result = multierror.Append(result, err)
	}

	if err := t.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	s.state.Store(int32(StateClosed))
	close(s.done)

	if err := result.ErrorOrNil(); err != nil {
		l.Warnw("session closed with errors",
			"reason", s.closeReason(),
			"error", err,
		)

		return
	}

	l.Infow("session closed",
		"reason", s.closeReason(),
	)
}

func (s *Session) presenceRecord() model.PresenceRecordModel {
	return model.PresenceRecordModel{
		SessionID:    s.id,
		UserID:       s.identity.ID,
		DisplayName:  s.identity.Name,
		LastActiveAt: time.Now().UnixMilli(),
	}
}

func (s *Session) writeEvent(t Transport, typ events.Type, payload interface{}) error {
	b, err := events.EncodeFrame(typ, payload)
	if err != nil {
		return err
	}

	if err := t.WriteFrame(b); err != nil {
		return err
	}

	s.touch()

	return nil
}

func (s *Session) writeRaw(t Transport, typ events.Type, data json.RawMessage) error {
	if err := t.WriteFrame(events.EncodeRawFrame(typ, data)); err != nil {
		return err
	}

	s.touch()

	return nil
}
