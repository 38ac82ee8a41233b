package resync

import (
	"context"
	"sync"
	"time"
)

// Throttle 重同步限流，键 = (user, device, conversation)。
// 固定窗口计数：窗口内超过 Burst 即拒绝，并给出建议等待时长。
type Throttle interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

func ThrottleKey(userID, deviceID, conversationID string) string {
	return userID + "|" + deviceID + "|" + conversationID
}

// NopThrottle 不限流（测试/内网）。
type NopThrottle struct{}

func (NopThrottle) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}

type memWindow struct {
	count   int
	resetAt time.Time
}

type MemThrottle struct {
	Window time.Duration
	Burst  int

	mu sync.Mutex
	m  map[string]*memWindow
}

func NewMemThrottle(window time.Duration, burst int) *MemThrottle {
	return &MemThrottle{Window: window, Burst: burst, m: make(map[string]*memWindow)}
}

func (t *MemThrottle) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	w, ok := t.m[key]
	if !ok || now.After(w.resetAt) {
		w = &memWindow{resetAt: now.Add(t.Window)}
		t.m[key] = w
	}
	w.count++
	if w.count > t.Burst {
		return false, time.Until(w.resetAt), nil
	}
	return true, 0, nil
}
