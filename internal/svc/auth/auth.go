package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
)

const COOKIE_AUTH = "relay-auth"

// Identity is what the identity collaborator exposes about the caller:
// a stable user id and a display name. Everything else about accounts
// lives outside this service.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Authorizer interface {
	SignJWT(secret string, claim jwt.Claims) (string, error)
	VerifyJWT(token []string, out jwt.Claims) (*jwt.Token, error)
	CreateAccessToken(identity Identity, duration time.Duration) (string, time.Time, error)
	CurrentUser(token string) (Identity, error)
	Cookie(key, token string, duration time.Duration) *fasthttp.Cookie
}

type authorizer struct {
	JWTSecret string
	Domain    string
	Secure    bool
}

type AuthorizerOptions struct {
	JWTSecret string
	Domain    string
	Secure    bool
}

func New(opt AuthorizerOptions) Authorizer {
	return &authorizer{
		JWTSecret: opt.JWTSecret,
		Domain:    opt.Domain,
		Secure:    opt.Secure,
	}
}

func (a *authorizer) CreateAccessToken(identity Identity, duration time.Duration) (string, time.Time, error) {
	expireAt := time.Now().Add(duration)

	token, err := a.SignJWT(a.JWTSecret, &JWTClaimUser{
		UserID:      identity.ID,
		DisplayName: identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "relay",
		},
	})

	return token, expireAt, err
}

func (a *authorizer) Cookie(key string, token string, duration time.Duration) *fasthttp.Cookie {
	cookie := fasthttp.Cookie{}
	cookie.SetKey(key)
	cookie.SetValue(token)
	cookie.SetDomain(a.Domain)
	cookie.SetSecure(a.Secure)
	cookie.SetHTTPOnly(true)
	cookie.SetExpire(time.Now().Add(duration))

	return &cookie
}
