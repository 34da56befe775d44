package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// operatorSession は管理画面の操作者セッションです。
type operatorSession struct {
	sessions.Session
}

func sessionOf(c *gin.Context) operatorSession {
	return operatorSession{sessions.Default(c)}
}

func (s operatorSession) user() string {
	user, _ := s.Get(sessionKeyUser).(string)
	return user
}

func (s operatorSession) csrfToken() string {
	token, _ := s.Get(sessionKeyCSRF).(string)
	return token
}

func (s operatorSession) issuedAt() time.Time   { return readUnix(s.Get(sessionKeyIssuedAt)) }
func (s operatorSession) lastActive() time.Time { return readUnix(s.Get(sessionKeyLastActive)) }

// start は新しいセッションを発行し、CSRF トークンを返します。
func (s operatorSession) start(user string, now time.Time) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	s.Set(sessionKeyUser, user)
	s.Set(sessionKeyIssuedAt, now.Unix())
	s.Set(sessionKeyLastActive, now.Unix())
	s.Set(sessionKeyCSRF, token)
	return token, s.Save()
}

func (s operatorSession) touch(now time.Time) {
	s.Set(sessionKeyLastActive, now.Unix())
	_ = s.Save()
}

func (s operatorSession) end() error {
	s.Clear()
	return s.Save()
}

// denial は認証エラーの応答内容です。
type denial struct {
	status  int
	code    string
	message string
}

var (
	denyUnauthorized = &denial{http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です"}
	denyExpired      = &denial{http.StatusUnauthorized, "SESSION_EXPIRED", "セッションの有効期限が切れました"}
	denyIdle         = &denial{http.StatusUnauthorized, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください"}
	denyCSRFMissing  = &denial{http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが設定されていません"}
	denyCSRFInvalid  = &denial{http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません"}
)

// check はセッションが有効かを判定します。期限切れのセッションは破棄します。
func (s operatorSession) check(now time.Time) *denial {
	if s.user() == "" {
		return denyUnauthorized
	}
	var d *denial
	switch issued, last := s.issuedAt(), s.lastActive(); {
	case issued.IsZero() || now.Sub(issued) > maxSessionLifetime:
		d = denyExpired
	case last.IsZero() || now.Sub(last) > idleTimeout:
		d = denyIdle
	default:
		return nil
	}
	_ = s.end()
	return d
}

func abort(c *gin.Context, d *denial) {
	c.AbortWithStatusJSON(d.status, gin.H{"code": d.code, "message": d.message})
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
