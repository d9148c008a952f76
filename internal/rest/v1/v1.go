package v1

import (
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/rest"
	"github.com/seventv/relay/internal/rest/v1/routes"
)

func API(gCtx global.Context, router *rest.Router) rest.Route {
	return routes.New(gCtx)
}
