package adapter

import (
	"context"
	"sync"

	"seckill/internal/service/seckill/domain"
)

// LedgerMemoryAdapter 是进程内的账本，只适合单实例或测试。
type LedgerMemoryAdapter struct {
	mu        sync.Mutex
	remaining map[int64]int64
	sessions  map[int64]string
}

func NewLedgerMemoryAdapter() *LedgerMemoryAdapter {
	return &LedgerMemoryAdapter{remaining: make(map[int64]int64), sessions: make(map[int64]string)}
}

func (l *LedgerMemoryAdapter) TryReserve(_ context.Context, skuID int64) (domain.ReserveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.remaining[skuID]
	if !ok {
		return domain.ReserveUnknown, nil
	}
	if n <= 0 {
		return domain.ReserveExhausted, nil
	}
	l.remaining[skuID] = n - 1
	return domain.ReserveReserved, nil
}

func (l *LedgerMemoryAdapter) Release(_ context.Context, skuID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.remaining[skuID]; !ok {
		return domain.ErrUnknownSku
	}
	l.remaining[skuID]++
	return nil
}

func (l *LedgerMemoryAdapter) Seed(_ context.Context, goods []domain.Good) error {
	remaining := make(map[int64]int64, len(goods))
	sessions := make(map[int64]string, len(goods))
	for _, g := range goods {
		remaining[g.SkuID] = seedStock(g)
		sessions[g.SkuID] = g.SessionKey()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = remaining
	l.sessions = sessions
	return nil
}

func (l *LedgerMemoryAdapter) Reconcile(_ context.Context, goods []domain.Good) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var seeded []int64
	for _, g := range goods {
		session := g.SessionKey()
		if current, ok := l.sessions[g.SkuID]; ok && current == session {
			continue
		}
		l.remaining[g.SkuID] = seedStock(g)
		l.sessions[g.SkuID] = session
		seeded = append(seeded, g.SkuID)
	}
	return seeded, nil
}

func (l *LedgerMemoryAdapter) Remaining(_ context.Context, skuID int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.remaining[skuID]
	return n, ok, nil
}
