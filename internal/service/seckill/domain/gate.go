package domain

import "sync"

// SoldOutGate 是进程内的售罄标记，用来在商品售罄后挡住对 Ledger 的访问。
// 多实例部署时每个实例各有一份，只在本实例观察到 Exhausted 后才收敛为售罄。
//
// 每次 Reset 都会开启新的一代。请求在访问 Ledger 前记下当前代，
// 只有代没有变化时它观察到的 Exhausted 才会关门，激活前的旧观察不会关掉新账本的门。
type SoldOutGate struct {
	mu         sync.RWMutex
	soldOut    map[int64]bool
	generation uint64
}

func NewSoldOutGate() *SoldOutGate {
	return &SoldOutGate{soldOut: make(map[int64]bool)}
}

func (g *SoldOutGate) IsMarkedSoldOut(skuID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.soldOut[skuID]
}

// Generation 返回当前代，配合 MarkSoldOutAt 使用。
func (g *SoldOutGate) Generation() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

// MarkSoldOutAt 仅当 generation 仍是当前代时关门，返回是否生效。
func (g *SoldOutGate) MarkSoldOutAt(skuID int64, generation uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if generation != g.generation {
		return false
	}
	g.soldOut[skuID] = true
	return true
}

// Reset 在新窗口激活时清空所有标记，并把本次 seed 的 sku 置为未售罄，返回新的代。
func (g *SoldOutGate) Reset(skuIDs []int64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.soldOut = make(map[int64]bool, len(skuIDs))
	for _, id := range skuIDs {
		g.soldOut[id] = false
	}
	return g.generation
}
