package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /auth/login のハンドラーです。成功すると CSRF トークンをヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	ip := c.ClientIP()
	if wait := m.limiter.retryAfter(ip); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	ok, err := m.authenticate(req.Username, req.Password)
	if err != nil {
		m.logger.Error("login unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": err.Error(),
		})
		return
	}
	if !ok {
		remaining := m.limiter.fail(ip)
		m.logger.Warn("login failed", zap.String("ip", ip), zap.Int("remaining_attempts", remaining))
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}
	m.limiter.reset(ip)

	token, err := sessionOf(c).start(m.cfg.AppUsername, m.now())
	if err != nil {
		m.logger.Error("failed to start session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}
	m.logger.Info("operator logged in", zap.String("operator", m.cfg.AppUsername), zap.String("ip", ip))
	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は POST /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	if err := sessionOf(c).end(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	m.logger.Info("operator logged out", Operator(c))
	c.Status(http.StatusNoContent)
}

// Session は GET /auth/session のハンドラーです。ログイン中の操作者名と CSRF トークンを返します。
func (m *Manager) Session(c *gin.Context) {
	if token := sessionOf(c).csrfToken(); token != "" {
		c.Header(csrfHeader, token)
	}
	c.JSON(http.StatusOK, gin.H{"user": CurrentUser(c)})
}
