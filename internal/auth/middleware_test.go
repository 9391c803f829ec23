package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/metrics", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		operator, _ := GetOperator(c.Request.Context())
		c.String(http.StatusOK, operator)
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{"catdog"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noSubject := valid
	noSubject.Subject = ""
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	cases := []struct {
		name    string
		header  string
		want    int
		details string
	}{
		{"missing header", "", http.StatusUnauthorized, "bearer token required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "bearer token required"},
		{"empty token", "Bearer  ", http.StatusUnauthorized, "bearer token required"},
		{"wrong secret", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized, "token expired"},
		{"no expiry", "Bearer " + signToken(t, testSecret, noExpiry), http.StatusUnauthorized, "token has no expiry"},
		{"no subject", "Bearer " + signToken(t, testSecret, noSubject), http.StatusUnauthorized, "token has no subject"},
		{"valid", "Bearer " + signToken(t, testSecret, valid), http.StatusOK, ""},
	}
	router := newRouter("catdog")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
			if tc.want == http.StatusOK && resp.Body.String() != "ops" {
				t.Fatalf("expected operator in context, got %q", resp.Body.String())
			}
			if tc.details != "" && !strings.Contains(resp.Body.String(), tc.details) {
				t.Fatalf("expected details %q, got %s", tc.details, resp.Body.String())
			}
		})
	}
}

func TestJWTMiddlewareAudience(t *testing.T) {
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	newRouter("catdog").ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized || !strings.Contains(resp.Body.String(), "invalid audience") {
		t.Fatalf("expected 401 for wrong audience, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestJWTMiddlewareWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/metrics", JWTMiddleware("  ", ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a configured secret, got %d", resp.Code)
	}
}

func TestGetOperatorWithoutToken(t *testing.T) {
	if _, ok := GetOperator(context.Background()); ok {
		t.Fatal("expected no operator on a bare context")
	}
}
