package auth

import (
	"sync"
	"time"
)

// loginLimiter は接続元ごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
type loginLimiter struct {
	mu       sync.Mutex
	failures map[string]*failureWindow
	now      func() time.Time
}

type failureWindow struct {
	count       int
	opened      time.Time
	lockedUntil time.Time
}

func newLoginLimiter(now func() time.Time) *loginLimiter {
	return &loginLimiter{failures: make(map[string]*failureWindow), now: now}
}

// retryAfter はロック中なら解除までの残り時間を返します。
func (l *loginLimiter) retryAfter(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.failures[ip]
	if !ok {
		return 0
	}
	if left := w.lockedUntil.Sub(l.now()); left > 0 {
		return left
	}
	return 0
}

// fail は失敗を記録し、ロックまでに残っている試行回数を返します。
func (l *loginLimiter) fail(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.failures[ip]
	if !ok || now.Sub(w.opened) > loginWindow {
		w = &failureWindow{opened: now}
		l.failures[ip] = w
	}
	if w.count < maxLoginAttempts {
		w.count++
	}
	if w.count == maxLoginAttempts {
		w.lockedUntil = now.Add(lockDuration)
	}
	return maxLoginAttempts - w.count
}

func (l *loginLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}
