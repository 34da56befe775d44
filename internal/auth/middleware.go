package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireLogin はセッションを検証し、操作者名をコンテキストに載せます。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessionOf(c)
		now := m.now()
		if d := s.check(now); d != nil {
			abort(c, d)
			return
		}
		s.touch(now)
		c.Set(ContextUserKey, s.user())
		c.Next()
	}
}

// VerifyCSRF は更新系リクエストの X-CSRF-Token ヘッダーをセッションのトークンと照合します。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			c.Next()
			return
		}
		expected := sessionOf(c).csrfToken()
		if expected == "" {
			abort(c, denyCSRFMissing)
			return
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(c.GetHeader(csrfHeader))) != 1 {
			m.logger.Warn("csrf token mismatch", Operator(c), zap.String("path", c.FullPath()))
			abort(c, denyCSRFInvalid)
			return
		}
		c.Next()
	}
}

// CurrentUser は RequireLogin が設定したログイン中の操作者名を返します。未ログインなら空文字です。
func CurrentUser(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}

// Operator は操作者名のログフィールドです。
func Operator(c *gin.Context) zap.Field {
	return zap.String("operator", CurrentUser(c))
}
