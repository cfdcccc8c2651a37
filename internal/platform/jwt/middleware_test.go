package jwtmw

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

// TestMain はテスト実行前にGinをテストモードに設定します。
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newContext(authHeader string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		c.Request.Header.Set("Authorization", authHeader)
	}
	return c, w
}

// TestAuthRequired_MissingBearerToken はBearerトークンがない場合やプレフィックスが不正な場合に401が返されることを検証します。
func TestAuthRequired_MissingBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"bearer lowercase", "bearer token123"},
		{"no space after Bearer", "Bearertoken123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext(tt.authHeader)

			AuthRequired(testSecret)(c)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
			if !c.IsAborted() {
				t.Error("expected request to be aborted")
			}
		})
	}
}

// TestAuthRequired_MissingJWTSecret はシークレット未設定の場合に500が返されることを検証します。
func TestAuthRequired_MissingJWTSecret(t *testing.T) {
	c, w := newContext("Bearer some-token")

	AuthRequired("")(c)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

// TestAuthRequired_InvalidToken は不正なトークンで401が返されることを検証します。
func TestAuthRequired_InvalidToken(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 1,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, _ := expired.SignedString([]byte(testSecret))

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubStr, _ := noSub.SignedString([]byte(testSecret))

	wrongSecret, _ := NewGenerator("other", time.Hour).GenerateToken(1, "admin")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"expired", expiredStr},
		{"missing sub", noSubStr},
		{"wrong secret", wrongSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext("Bearer " + tt.token)

			AuthRequired(testSecret)(c)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
		})
	}
}

// TestAuthRequired_ValidToken は有効なトークンでuserIDがContextに設定されることを検証します。
func TestAuthRequired_ValidToken(t *testing.T) {
	token, err := NewGenerator(testSecret, time.Hour).GenerateToken(7, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := newContext("Bearer " + token)
	AuthRequired(testSecret)(c)

	if c.IsAborted() {
		t.Fatal("expected request not to be aborted")
	}
	if got := c.GetUint(ContextUserID); got != 7 {
		t.Errorf("expected userID 7, got %d", got)
	}
	if got := c.GetString(ContextUsername); got != "admin" {
		t.Errorf("expected username admin, got %q", got)
	}
}

// TestAuthRequired_Cookie はCookieに格納したトークンでも認証できることを検証します。
func TestAuthRequired_Cookie(t *testing.T) {
	token, _ := NewGenerator(testSecret, time.Hour).GenerateToken(3, "ops")

	c, _ := newContext("")
	c.Request.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	AuthRequired(testSecret)(c)

	if c.IsAborted() {
		t.Fatal("expected request not to be aborted")
	}
	if !Authenticated(c, testSecret) {
		t.Error("expected Authenticated to be true")
	}
}

// TestAuthenticated_NoToken はトークンがない場合にfalseを返し、中断しないことを検証します。
func TestAuthenticated_NoToken(t *testing.T) {
	c, _ := newContext("")
	if Authenticated(c, testSecret) {
		t.Error("expected Authenticated to be false")
	}
	if c.IsAborted() {
		t.Error("expected request not to be aborted")
	}
}
