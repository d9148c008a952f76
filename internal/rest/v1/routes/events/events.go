package events

import (
	"bufio"

	"github.com/seventv/common/errors"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/middleware"
	"github.com/seventv/relay/internal/rest/rest"
	"github.com/seventv/relay/internal/session"
	"github.com/valyala/fasthttp"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type route struct {
	gCtx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &route{gCtx}
}

func (r *route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/events",
		Method: rest.GET,
		Middleware: []rest.Middleware{
			middleware.Auth(r.gCtx),
		},
	}
}

// Handler upgrades the request into a long-lived event stream. The
// stream writer goroutine owns the session from here on.
func (r *route) Handler(ctx *rest.Ctx) rest.APIError {
	actor, ok := ctx.GetActor()
	if !ok {
		return errors.ErrUnauthorized()
	}

	cfg := r.gCtx.Config()

	s := session.New(primitive.NewObjectID().Hex(), actor, session.Options{
		Registry:          r.gCtx.Inst().Registry,
		Presences:         r.gCtx.Inst().Presences,
		Bus:               r.gCtx.Inst().Bus,
		Metrics:           r.gCtx.Inst().Prometheus,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		ClientTimeout:     cfg.Session.ClientTimeout,
		DeliveryBuffer:    cfg.Session.DeliveryBuffer,
	})

	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(rest.OK)

	gCtx := r.gCtx

	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		s.Run(gCtx, &streamTransport{w: w})
	}))

	return nil
}

// streamTransport flushes every frame immediately; a buffered frame is
// a frame the client has not seen.
type streamTransport struct {
	w *bufio.Writer
}

func (t *streamTransport) WriteFrame(b []byte) error {
	if _, err := t.w.Write(b); err != nil {
		return err
	}

	return t.w.Flush()
}

func (t *streamTransport) Close() error {
	// The stream ends when the writer returns
	return nil
}
