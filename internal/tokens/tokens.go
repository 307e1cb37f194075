package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/copad/copad/internal/config"
)

// GenerateIdentityToken creates a signed JWT carrying the editor identity.
// Used by the agent binary and integration setups that run without an
// external identity provider.
func GenerateIdentityToken(cfg *config.Config, sub, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  sub,
		"name": name,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.JWT.Secret))
}
