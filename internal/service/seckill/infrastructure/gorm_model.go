package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// SeckillGoodsModel 对应数据库中的 seckill_goods 表，一行是一个参与秒杀的 sku
type SeckillGoodsModel struct {
	gorm.Model
	GoodsID    int64 `gorm:"index"`
	SkuID      int64 `gorm:"uniqueIndex"`
	Title      string
	StockCount int64
	StartDate  time.Time
	EndDate    time.Time
	Enable     bool `gorm:"default:true"`
}

// TableName 指定 GORM 应该使用的表名
func (SeckillGoodsModel) TableName() string {
	return "seckill_goods"
}

// SeckillOrderModel 对应 seckill_order 表，由下游订单流水线写入，这里只读
type SeckillOrderModel struct {
	gorm.Model
	UserID  int64 `gorm:"index"`
	OrderID int64 `gorm:"uniqueIndex"`
	SkuID   int64
}

func (SeckillOrderModel) TableName() string {
	return "seckill_order"
}
