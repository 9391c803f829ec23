// Package auth guards operator endpoints with HMAC-signed JWT bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type operatorKey struct{}

// GetOperator returns the token subject stored by JWTMiddleware.
func GetOperator(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorKey{}).(string)
	return operator, ok && operator != ""
}

// JWTMiddleware admits requests whose bearer token is HMAC-signed with secret,
// carries a subject and has not expired. A non-empty audience must appear in
// the aud claim. With no secret every request is refused.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return key, nil }

	return func(c *gin.Context) {
		if len(key) == 0 {
			reject(c, "operator authentication is not configured")
			return
		}
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			reject(c, "bearer token required")
			return
		}

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
			reject(c, rejection(err))
			return
		}
		if claims.Subject == "" {
			reject(c, "token has no subject")
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), operatorKey{}, claims.Subject))
		c.Next()
	}
}

func rejection(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token has no expiry"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	default:
		return "invalid token"
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func reject(c *gin.Context, details string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized.", "details": details})
}
