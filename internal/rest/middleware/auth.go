package middleware

import (
	"strings"

	"github.com/seventv/common/errors"
	"github.com/seventv/common/utils"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/rest"
	"github.com/seventv/relay/internal/svc/auth"
)

// Auth resolves the requesting identity from a bearer token or the
// auth cookie and stores it as the request actor.
func Auth(gCtx global.Context) rest.Middleware {
	return func(ctx *rest.Ctx) rest.APIError {
		token := ""

		// Parse token from header
		h := utils.B2S(ctx.Request.Header.Peek("Authorization"))
		if h != "" {
			s := strings.Split(h, "Bearer ")
			if len(s) != 2 {
				return errors.ErrUnauthorized().SetFields(errors.Fields{"message": "Bad Authorization Header"})
			}

			token = s[1]
		}

		// Fall back to the cookie set at token issuance
		if token == "" {
			token = utils.B2S(ctx.Request.Header.Cookie(auth.COOKIE_AUTH))
		}

		if token == "" {
			return errors.ErrUnauthorized().SetFields(errors.Fields{"message": "No Token Provided"})
		}

		identity, err := gCtx.Inst().Auth.CurrentUser(token)
		if err != nil {
			return errors.ErrUnauthorized().SetFields(errors.Fields{"message": err.Error()})
		}

		ctx.SetActor(identity)

		return nil
	}
}
