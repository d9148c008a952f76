package middleware

import (
	"strconv"
	"time"

	"github.com/seventv/common/errors"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/rest"
	"go.uber.org/zap"
)

// RateLimit caps how often one identity (or, unauthenticated, one
// remote address) may hit the route within the window.
func RateLimit(gCtx global.Context, bucket string, limit int64, window time.Duration) rest.Middleware {
	return func(ctx *rest.Ctx) rest.APIError {
		identifier := ctx.RemoteIP().String()
		if actor, ok := ctx.GetActor(); ok {
			identifier = actor.ID
		}

		result, err := gCtx.Inst().Limiter.Allow(ctx, bucket, identifier, limit, window)
		if err != nil {
			// Fail open: a degraded limiter must not take the API down
			zap.S().Errorw("ratelimit, check failed",
				"bucket", bucket,
				"error", err,
			)

			return nil
		}

		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(result.TTL, 10))

		if !result.Allowed {
			return errors.ErrRateLimited()
		}

		return nil
	}
}
