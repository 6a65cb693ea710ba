// Package auth is the seam to the external identity provider. The core only
// ever needs a verified user id and role before privileged operations; how
// the credential is checked is the provider's business.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrInvalidCredential = errors.New("invalid credential")

type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Verifier checks a bearer credential against the identity provider.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// StaticVerifier is the single-token deployment shape: one admin credential
// from config. Anything heavier plugs in behind the same interface.
type StaticVerifier struct {
	Token string
}

func (v StaticVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	if v.Token == "" || credential != v.Token {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{UserID: "admin", Role: "admin"}, nil
}

// RequireRole guards a route group behind the verifier.
func RequireRole(v Verifier, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		id, err := v.Verify(c.Request.Context(), cred)
		if err != nil {
			log.Warn().Str("module", "auth").Str("path", c.FullPath()).Msg("rejected credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if role != "" && id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}
