// Package auth guards the status server with a shared bearer token.
//
// It avoids policy decisions and storage concerns: the token comes from the
// environment variable named in the deploy config.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a bearer token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one token. An empty Token accepts nothing.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FromEnv builds a StaticToken from the variable named env. It returns false
// when env is blank or the variable is unset, meaning no auth is required.
func FromEnv(env string) (Validator, bool) {
	env = strings.TrimSpace(env)
	if env == "" {
		return nil, false
	}
	token := os.Getenv(env)
	if token == "" {
		return nil, false
	}
	return StaticToken{Token: token}, true
}

// BearerToken extracts the token from an `Authorization: Bearer` header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects requests whose bearer token v does not accept.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(BearerToken(c.GetHeader("Authorization"))); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
