package adapter

import (
	"context"
	"sync"
	"time"

	"seckill/internal/service/seckill/domain/port"
)

// RateLimitMemoryAdapter 是按 key 分桶的进程内滑动窗口，每个桶保存窗口内被放行请求的时间戳。
type RateLimitMemoryAdapter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewRateLimitMemoryAdapter() *RateLimitMemoryAdapter {
	return &RateLimitMemoryAdapter{windows: make(map[string][]time.Time)}
}

func (r *RateLimitMemoryAdapter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateLimitDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 时间戳按放行顺序追加，恰好等于 now-window 的记录也视为已滑出
	cutoff := now.Add(-window)
	reqs := r.windows[key]
	idx := 0
	for idx < len(reqs) && !reqs[idx].After(cutoff) {
		idx++
	}
	reqs = reqs[idx:]

	allowed := len(reqs) < limit
	if allowed {
		reqs = append(reqs, now)
	}
	if len(reqs) == 0 {
		delete(r.windows, key)
	} else {
		r.windows[key] = reqs
	}

	resetAt := now.Add(window)
	if len(reqs) > 0 {
		resetAt = reqs[0].Add(window)
	}
	return port.RateLimitDecision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: limit - len(reqs),
		ResetAt:   resetAt,
	}, nil
}
