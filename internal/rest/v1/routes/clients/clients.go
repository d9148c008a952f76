package clients

import (
	"time"

	"github.com/seventv/common/errors"
	"github.com/seventv/relay/data/model"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/middleware"
	"github.com/seventv/relay/internal/rest/rest"
)

type route struct {
	gCtx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &route{gCtx}
}

func (r *route) Config() rest.RouteConfig {
	return rest.RouteConfig{
		URI:    "/clients",
		Method: rest.GET,
		Middleware: []rest.Middleware{
			middleware.Auth(r.gCtx),
		},
	}
}

func (r *route) Handler(ctx *rest.Ctx) rest.APIError {
	actor, ok := ctx.GetActor()
	if !ok {
		return errors.ErrUnauthorized()
	}

	snapshot, err := r.gCtx.Inst().Presences.Snapshot(ctx)
	if err != nil {
		return errors.ErrInternalServerError().SetDetail(err.Error())
	}

	// The caller's own record rides along so the UI can render its
	// status without digging through the list
	var userStatus *model.ActiveClientModel

	rec, found, err := r.gCtx.Inst().Presences.Get(ctx, actor.ID)
	if err != nil {
		return errors.ErrInternalServerError().SetDetail(err.Error())
	}

	if found {
		status := rec.ToActiveClient(r.gCtx.Config().Session.ClientTimeout, time.Now())
		userStatus = &status
	}

	return ctx.JSON(rest.OK, &Response{
		Clients:    snapshot,
		UserStatus: userStatus,
	})
}

type Response struct {
	Clients    []model.ActiveClientModel `json:"clients"`
	UserStatus *model.ActiveClientModel  `json:"userStatus"`
}
