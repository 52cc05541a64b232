package port

import (
	"context"
	"seckill/internal/service/seckill/domain"
	"time"
)

// TokenStore 保存一次性秒杀路径令牌。
type TokenStore interface {
	// Save 保存令牌，同一 user+goods 只保留最新的一个。
	Save(ctx context.Context, token *domain.AccessToken) error

	// Consume 校验令牌绑定和有效期，校验通过时立即删除；检查与删除必须是原子的。
	Consume(ctx context.Context, token string, userID, goodsID int64, now time.Time) (domain.TokenStatus, error)
}

// RateLimitDecision 是一次限流判定的结果。
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter 是按 key 的滑动窗口计数器，被拒绝的请求不计入窗口。
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateLimitDecision, error)
}
