package adapter

import (
	"context"
	"sync"
	"time"

	"seckill/internal/service/seckill/domain"
)

// 两次清理过期令牌之间的最短间隔
const tokenSweepInterval = time.Second

type tokenPair struct {
	userID  int64
	goodsID int64
}

// TokenMemoryAdapter 是进程内的令牌存储。
// 写入和校验时顺带清理过期令牌，最多每 tokenSweepInterval 扫一次。
type TokenMemoryAdapter struct {
	mu        sync.Mutex
	tokens    map[tokenPair]domain.AccessToken
	lastSweep time.Time
}

func NewTokenMemoryAdapter() *TokenMemoryAdapter {
	return &TokenMemoryAdapter{tokens: make(map[tokenPair]domain.AccessToken)}
}

func (s *TokenMemoryAdapter) Save(_ context.Context, token *domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(token.IssuedAt)
	s.tokens[tokenPair{token.UserID, token.GoodsID}] = *token
	return nil
}

func (s *TokenMemoryAdapter) Consume(_ context.Context, token string, userID, goodsID int64, now time.Time) (domain.TokenStatus, error) {
	if token == "" {
		return domain.TokenInvalid, nil
	}
	key := tokenPair{userID, goodsID}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 先取出本次要校验的令牌再清理，过期的令牌仍然报告 Expired
	stored, ok := s.tokens[key]
	if ok && stored.Token == token {
		delete(s.tokens, key)
	}
	s.sweepLocked(now)

	if !ok || stored.Token != token {
		return domain.TokenInvalid, nil
	}
	if !now.Before(stored.ExpiresAt) {
		return domain.TokenExpired, nil
	}
	return domain.TokenValid, nil
}

func (s *TokenMemoryAdapter) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < tokenSweepInterval {
		return
	}
	s.lastSweep = now
	for key, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, key)
		}
	}
}
