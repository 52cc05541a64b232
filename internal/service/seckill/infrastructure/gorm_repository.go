package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
)

// EligibilityRule 决定一个商品能否进入当前秒杀窗口。
type EligibilityRule interface {
	Eligible(g domain.Good, now time.Time) (bool, error)
}

// GormCatalogRepository 是 port.Catalog 的 GORM 实现
type GormCatalogRepository struct {
	db   *gorm.DB
	rule EligibilityRule
	now  func() time.Time
}

// NewGormCatalogRepository 创建一个新的 GORM 仓储实例，rule 为 nil 时不做额外过滤
func NewGormCatalogRepository(db *gorm.DB, rule EligibilityRule, now func() time.Time) *GormCatalogRepository {
	if now == nil {
		now = time.Now
	}
	return &GormCatalogRepository{db: db, rule: rule, now: now}
}

// ListEligibleGoods 读取所有启用的秒杀商品，再用规则过滤。
// 单个商品的规则求值失败只跳过该商品，不影响整个窗口。
func (r *GormCatalogRepository) ListEligibleGoods(ctx context.Context) ([]domain.Good, error) {
	var models []SeckillGoodsModel
	err := r.db.WithContext(ctx).
		Where("enable = ?", true).
		Order("sku_id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query seckill goods")
	}

	now := r.now()
	goods := make([]domain.Good, 0, len(models))
	for i := range models {
		g := ToDomainGood(&models[i])
		if r.rule != nil {
			ok, err := r.rule.Eligible(g, now)
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Int64("sku_id", g.SkuID).Msg("eligibility rule failed, skipping sku")
				continue
			}
			if !ok {
				continue
			}
		}
		goods = append(goods, g)
	}
	return goods, nil
}

// GormOrderRepository 是 port.OrderLookup 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindOrderID 返回用户最近一笔秒杀订单的订单号
func (r *GormOrderRepository) FindOrderID(ctx context.Context, userID int64) (int64, error) {
	var model SeckillOrderModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrOrderNotFound
		}
		return 0, errors.Wrapf(err, "find seckill order of user %d", userID)
	}
	return model.OrderID, nil
}
