package routes

import (
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/rest"
	"github.com/seventv/relay/internal/rest/v1/routes/clients"
	"github.com/seventv/relay/internal/rest/v1/routes/events"
	"github.com/seventv/relay/internal/rest/v1/routes/messages"
)

type Route struct {
	Ctx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &Route{gCtx}
}

func (r *Route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/v1" + r.Ctx.Config().Http.VersionSuffix,
		Method: rest.GET,
		Children: []rest.Route{
			events.New(r.Ctx),
			clients.New(r.Ctx),
			messages.New(r.Ctx),
		},
	}
}

func (r *Route) Handler(ctx *rest.Ctx) rest.APIError {
	return ctx.JSON(rest.OK, &Response{
		Online: true,
	})
}

type Response struct {
	Online bool `json:"online"`
}
