package port

import (
	"context"
	"seckill/internal/service/seckill/domain"
)

// StockLedger 是秒杀库存账本的出站端口，是“当前是否还有库存”的唯一事实来源。
// 所有实现都必须保证扣减是单个不可分割的操作。
type StockLedger interface {
	// TryReserve 原子地把 sku 的剩余库存减一（仅当剩余 > 0）。
	TryReserve(ctx context.Context, skuID int64) (domain.ReserveResult, error)

	// Release 是 TryReserve 的补偿操作，原子地把剩余库存加一。
	Release(ctx context.Context, skuID int64) error

	// Seed 用一批商品整体替换账本内容，每个 sku 的剩余库存重置为目录库存。
	Seed(ctx context.Context, goods []domain.Good) error

	// Reconcile 把目录合并进账本：账本里没有的 sku，或者场次(SessionKey)变化的 sku 写入目录库存，
	// 场次相同的 sku 保持现有剩余量。整个合并是原子的，返回被写入库存的 sku。
	Reconcile(ctx context.Context, goods []domain.Good) ([]int64, error)

	// Remaining 返回 sku 的剩余库存，sku 不存在时第二个返回值为 false。
	Remaining(ctx context.Context, skuID int64) (int64, bool, error)
}

// ActivationLocker 在多实例之间互斥窗口激活过程。
type ActivationLocker interface {
	Acquire(ctx context.Context) (release func(), err error)
}
