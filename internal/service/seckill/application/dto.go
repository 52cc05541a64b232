package application

import (
	"time"

	"seckill/internal/service/seckill/domain"
)

// PathTokenResponse 是获取秒杀路径的响应
type PathTokenResponse struct {
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PurchaseBody 是秒杀下单的请求体
type PurchaseBody struct {
	GoodsID int64 `json:"goodsId"`
	SkuID   int64 `json:"skuId"`
}

// PurchaseResponse 是秒杀下单的响应，Status 为 queued 或拒绝原因
type PurchaseResponse struct {
	Status   string `json:"status"`
	IntentID string `json:"intentId,omitempty"`
}

// GoodsView 是秒杀列表里的一项，Remaining 为账本中的实时剩余
type GoodsView struct {
	domain.Good
	Remaining int64 `json:"remaining"`
	SoldOut   bool  `json:"soldOut"`
}

// ActivateResponse 描述一次窗口激活的结果
type ActivateResponse struct {
	Window   string  `json:"window"`
	Skus     int     `json:"skus"`
	Reseeded bool    `json:"reseeded"`
	Seeded   []int64 `json:"seeded,omitempty"`
	SoldOut  []int64 `json:"soldOut,omitempty"`
}
