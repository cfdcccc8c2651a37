package jwtmw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextUserID はgin.Contextに格納するオペレーターIDのキーです。
	ContextUserID = "userID"
	// ContextUsername はgin.Contextに格納するオペレーター名のキーです。
	ContextUsername = "username"
	// CookieName はブラウザ向けにアクセストークンを保持するCookie名です。
	CookieName = "access_token"
)

var (
	// ErrMissingToken はトークンが提示されなかったことを示します。
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken は署名・期限・形式のいずれかが不正なことを示します。
	ErrInvalidToken = errors.New("invalid token")
)

// Claims は検証済みトークンから取り出した値です。
type Claims struct {
	UserID   uint
	Username string
}

// ExtractToken はAuthorizationヘッダー（Bearer）またはCookieからトークン文字列を取り出します。
func ExtractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie
	}
	return ""
}

// ParseToken はHMAC署名を検証し、クレームを返します。
func ParseToken(secret, tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// Check signing algorithm (only HMAC allowed)
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(float64) // JWT numbers are decoded as float64
	if !ok {
		return nil, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	return &Claims{UserID: uint(sub), Username: username}, nil
}

// Authenticated はリクエストが有効なトークンを持つかどうかを返します。
// 中断はせず、コンソールのナビゲーション判定に使います。
func Authenticated(c *gin.Context, secret string) bool {
	if secret == "" {
		return false
	}
	_, err := ParseToken(secret, ExtractToken(c))
	return err == nil
}

// AuthRequired returns a Gin middleware function that validates JWT tokens
// and restricts access to authenticated operators only.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			// Server misconfiguration (JWT_SECRET not set)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server misconfigured"})
			return
		}

		tokenStr := ExtractToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}

		claims, err := ParseToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}
