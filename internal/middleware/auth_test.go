package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenSuccess(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token := signToken(t, "secret", "42", time.Now().Add(time.Hour))

	userID, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, 42, userID)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token := signToken(t, "other", "42", time.Now().Add(time.Hour))

	_, err := verifier.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token := signToken(t, "secret", "42", time.Now().Add(-time.Hour))

	_, err := verifier.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenBadSubject(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token := signToken(t, "secret", "not-a-number", time.Now().Add(time.Hour))

	_, err := verifier.ValidateToken(token)
	require.Error(t, err)
}

func setupAuthRouter(verifier *TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetInt("userID")})
	})
	return r
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier("secret"))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier("secret"))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier("secret"))
	token := signToken(t, "secret", "7", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"userId":7`)
}
