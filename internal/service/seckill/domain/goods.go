// internal/service/seckill/domain/goods.go
package domain

import (
	"fmt"
	"time"
)

// Good 是一个参与秒杀的商品（SKU 粒度）。
// 由目录服务导入，在一个秒杀窗口内不可变，库存的变化只体现在 Ledger 中。
type Good struct {
	GoodsID   int64     `json:"goodsId"`
	SkuID     int64     `json:"skuId"`
	Title     string    `json:"title"`
	Stock     int64     `json:"stock"`
	SaleStart time.Time `json:"saleStart"`
	SaleEnd   time.Time `json:"saleEnd"`
}

// OnSale 判断给定时刻是否处于该商品的秒杀时间窗口内。
func (g Good) OnSale(now time.Time) bool {
	return !now.Before(g.SaleStart) && now.Before(g.SaleEnd)
}

// SessionKey 标识该 sku 的一场秒杀：goods、sku 和起止时间。
// 账本按 sku 记录场次，场次不变时重启不会重新写入库存。库存数量不参与，目录库存被下游订单扣减时场次不变。
func (g Good) SessionKey() string {
	return fmt.Sprintf("%d:%d:%d:%d", g.GoodsID, g.SkuID, g.SaleStart.UnixMilli(), g.SaleEnd.UnixMilli())
}

// UserInfo 是鉴权服务返回的当前登录用户。
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// AccessToken 是一次性的秒杀路径令牌，绑定 user + goods。
type AccessToken struct {
	GoodsID   int64     `json:"goodsId"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TTL 返回令牌从签发到过期的时长。
func (t *AccessToken) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// PurchaseRequest 是一次秒杀下单尝试的输入。
type PurchaseRequest struct {
	Token   string
	UserID  int64
	GoodsID int64
	SkuID   int64
}

// PurchaseIntent 是准入成功后投递给下游订单流水线的消息。
// 每次成功准入只产生一条。
type PurchaseIntent struct {
	IntentID    string    `json:"intentId"`
	UserID      int64     `json:"userId"`
	GoodsID     int64     `json:"goodsId"`
	SkuID       int64     `json:"skuId"`
	RequestedAt time.Time `json:"requestedAt"`
	TraceID     string    `json:"traceId,omitempty"`
}
