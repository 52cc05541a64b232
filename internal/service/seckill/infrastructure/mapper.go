package infrastructure

import (
	"seckill/internal/service/seckill/domain"
)

// ToDomainGood 将数据库模型转换为领域模型
func ToDomainGood(model *SeckillGoodsModel) domain.Good {
	return domain.Good{
		GoodsID:   model.GoodsID,
		SkuID:     model.SkuID,
		Title:     model.Title,
		Stock:     model.StockCount,
		SaleStart: model.StartDate,
		SaleEnd:   model.EndDate,
	}
}
