package port

import (
	"context"
	"seckill/internal/service/seckill/domain"
)

// IntentPublisher 是订单流水线的出站端口（生产者一侧）。
// 投递语义为至少一次，去重由下游负责。
type IntentPublisher interface {
	Publish(ctx context.Context, intent domain.PurchaseIntent) error
}

// Catalog 读取当前可参与秒杀的商品。
type Catalog interface {
	ListEligibleGoods(ctx context.Context) ([]domain.Good, error)
}

// OrderLookup 查询用户的秒杀订单号，订单不存在时返回 domain.ErrOrderNotFound。
type OrderLookup interface {
	FindOrderID(ctx context.Context, userID int64) (int64, error)
}

// Authenticator 根据请求携带的凭证解析当前用户，未登录时返回 domain.ErrUnauthorized。
type Authenticator interface {
	CurrentUser(ctx context.Context, credential string) (*domain.UserInfo, error)
}
