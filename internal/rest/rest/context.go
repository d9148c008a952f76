package rest

import (
	"encoding/json"

	"github.com/seventv/common/errors"
	"github.com/seventv/relay/internal/svc/auth"
	"github.com/valyala/fasthttp"
)

type Ctx struct {
	*fasthttp.RequestCtx
}

type APIError = errors.APIError

func (c *Ctx) JSON(status HttpStatusCode, v interface{}) APIError {
	b, err := json.Marshal(v)
	if err != nil {
		c.SetStatusCode(InternalServerError)
		return errors.ErrInternalServerError().
			SetDetail("JSON Parsing Failed").
			SetFields(errors.Fields{"JSON_ERROR": err.Error()})
	}

	c.SetStatusCode(status)
	c.SetContentType("application/json")
	c.SetBody(b)
	return nil
}

func (c *Ctx) SetStatusCode(code HttpStatusCode) {
	c.RequestCtx.SetStatusCode(int(code))
}

func (c *Ctx) StatusCode() HttpStatusCode {
	return HttpStatusCode(c.RequestCtx.Response.StatusCode())
}

// Set the current authenticated identity
func (c *Ctx) SetActor(id auth.Identity) {
	c.SetUserValue(string(ActorKey), id)
}

// Get the current authenticated identity
func (c *Ctx) GetActor() (auth.Identity, bool) {
	return c.UserValue(ActorKey).Identity()
}
