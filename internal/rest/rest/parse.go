package rest

import (
	"strconv"

	"github.com/seventv/common/errors"
	"github.com/seventv/relay/internal/svc/auth"
)

type Param struct {
	v interface{}
}

func (c *Ctx) UserValue(key Key) *Param {
	return &Param{c.RequestCtx.UserValue(string(key))}
}

// String returns a string value of the param
func (p *Param) String() (string, bool) {
	if p.v == nil {
		return "", false
	}
	var s string
	switch t := p.v.(type) {
	case string:
		s = t
	default:
		return "", false
	}

	return s, true
}

// Int64 parses the param into an int64
func (p *Param) Int64() (int64, error) {
	s, ok := p.String()
	if !ok {
		return 0, errors.ErrEmptyField()
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.ErrBadInt().SetDetail(err.Error())
	}
	return i, nil
}

func (p *Param) Identity() (auth.Identity, bool) {
	switch t := p.v.(type) {
	case auth.Identity:
		return t, true
	default:
		return auth.Identity{}, false
	}
}
