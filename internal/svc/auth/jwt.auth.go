package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/seventv/common/utils"
)

type JWTClaimUser struct {
	UserID      string `json:"u"`
	DisplayName string `json:"n"`

	jwt.RegisteredClaims
}

func (a *authorizer) SignJWT(secret string, claim jwt.Claims) (string, error) {
	// Generate an unsigned token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claim)

	// Sign the token
	tokenStr, err := token.SignedString(utils.S2B(secret))

	return tokenStr, err
}

func (a *authorizer) VerifyJWT(token []string, out jwt.Claims) (*jwt.Token, error) {
	result, err := jwt.ParseWithClaims(
		strings.Join(token, "."),
		out,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("bad jwt signing method, expected HMAC but got %v", t.Header["alg"])
			}

			return utils.S2B(a.JWTSecret), nil
		},
	)

	return result, err
}

// CurrentUser resolves the identity behind a session token.
func (a *authorizer) CurrentUser(token string) (Identity, error) {
	claims := &JWTClaimUser{}

	if _, err := a.VerifyJWT(strings.Split(token, "."), claims); err != nil {
		return Identity{}, err
	}

	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("token carries no user id")
	}

	return Identity{
		ID:   claims.UserID,
		Name: claims.DisplayName,
	}, nil
}
