package middleware

import (
	"strings"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/cache"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Authenticator resolves bearer tokens to principals. Verified tokens are
// cached until they expire or the cache TTL runs out, whichever is first.
type Authenticator struct {
	issuer *auth.TokenIssuer
	cache  cache.Cache[string, *auth.Principal]
	ttl    time.Duration
}

func NewAuthenticator(issuer *auth.TokenIssuer, c cache.Cache[string, *auth.Principal], ttl time.Duration) *Authenticator {
	return &Authenticator{issuer: issuer, cache: c, ttl: ttl}
}

func (a *Authenticator) principal(token string) (*auth.Principal, error) {
	if a.cache != nil {
		if p, ok := a.cache.Get(token); ok {
			return p, nil
		}
	}
	claims, err := a.issuer.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	p := claims.Principal()
	if a.cache != nil && a.ttl > 0 {
		ttl := a.ttl
		if claims.ExpiresAt != nil {
			if left := time.Until(claims.ExpiresAt.Time); left < ttl {
				ttl = left
			}
		}
		if ttl > 0 {
			a.cache.Set(token, p, ttl)
		}
	}
	return p, nil
}

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on a websocket upgrade, so the token query parameter is accepted too.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}

func abortUnauthenticated(c *gin.Context, message string) {
	e := apperror.Unauthenticated(message)
	c.AbortWithStatusJSON(e.HTTPStatus(), e.Payload())
}

// RequireAuth rejects requests without a valid token.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthenticated(c, "Authorization token is required")
			return
		}
		p, err := a.principal(token)
		if err != nil {
			abortUnauthenticated(c, "Invalid or expired token")
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// OptionalAuth lets anonymous requests through. A token that is present
// but invalid is still rejected.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		p, err := a.principal(token)
		if err != nil {
			abortUnauthenticated(c, "Invalid or expired token")
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// Principal returns the caller set by the auth middleware, nil when anonymous.
func Principal(c *gin.Context) *auth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}
