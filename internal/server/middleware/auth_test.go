package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockhealth/internal/config"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
)

var authCfg = config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "flockhealth-test"}

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		UserID: "vet-1",
		Role:   models.RoleVeterinarian,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    authCfg.JWTIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		mutate  func(c *Claims)
		wantErr bool
		wantID  string
	}{
		{name: "valid", secret: authCfg.JWTSecret, mutate: func(*Claims) {}, wantID: "vet-1"},
		{name: "subject fallback", secret: authCfg.JWTSecret, mutate: func(c *Claims) { c.UserID = ""; c.Subject = "emp-2" }, wantID: "emp-2"},
		{name: "no identity", secret: authCfg.JWTSecret, mutate: func(c *Claims) { c.UserID = "" }, wantErr: true},
		{name: "wrong secret", secret: "other", mutate: func(*Claims) {}, wantErr: true},
		{name: "expired", secret: authCfg.JWTSecret, mutate: func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }, wantErr: true},
		{name: "wrong issuer", secret: authCfg.JWTSecret, mutate: func(c *Claims) { c.Issuer = "elsewhere" }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims()
			tc.mutate(&claims)

			got, err := ParseToken(sign(t, tc.secret, claims), authCfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, got.UserID)
		})
	}

	_, err := ParseToken("not-a-token", authCfg)
	assert.Error(t, err)
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.GET("/who", Auth(authCfg, nil), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, p)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, authCfg.JWTSecret, validClaims()), http.StatusOK},
		{"lowercase scheme", "bearer " + sign(t, authCfg.JWTSecret, validClaims()), http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"id":"vet-1","role":"veterinarian"}`, rec.Body.String())
			}
		})
	}
}

func TestPrincipalFrom_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := PrincipalFrom(c)
	assert.False(t, ok)
}
