// Package auth は管理画面の操作者ログインとセッション検証を提供します。
// 操作者は設定ファイルの 1 アカウントだけで、ジョブの作成者や更新者の記録に使われます。
package auth

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/import-export-admin/internal/config"
)

const (
	SessionCookieName    = "iea_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"

	// ContextUserKey はログイン済み操作者名を gin.Context に載せるキーです。
	ContextUserKey = "auth.user"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager は操作者の認証を担当します。
type Manager struct {
	cfg     *config.Config
	logger  *zap.Logger
	limiter *loginLimiter
	now     func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "auth")),
		now:    time.Now,
	}
	m.limiter = newLoginLimiter(func() time.Time { return m.now() })
	return m
}

var errMissingCredentials = errors.New("操作者アカウントが設定されていません (APP_USERNAME, APP_PASSWORD_HASH, SESSION_SECRET)")

// authenticate は操作者の資格情報を照合します。
func (m *Manager) authenticate(username, password string) (bool, error) {
	if m.cfg.AppUsername == "" || m.cfg.AppPasswordHash == "" || m.cfg.SessionSecret == "" {
		return false, errMissingCredentials
	}
	if username != m.cfg.AppUsername {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.AppPasswordHash), []byte(password)) == nil, nil
}
