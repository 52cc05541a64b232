package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// SaleWindow 记录当前激活窗口内的商品，按 sku 和 goods 两个维度索引。
type SaleWindow struct {
	mu          sync.RWMutex
	bySku       map[int64]Good
	byGoods     map[int64][]Good
	fingerprint string
}

func NewSaleWindow() *SaleWindow {
	return &SaleWindow{
		bySku:   make(map[int64]Good),
		byGoods: make(map[int64][]Good),
	}
}

// Replace 用新一批商品整体替换窗口内容。
func (w *SaleWindow) Replace(goods []Good) {
	bySku := make(map[int64]Good, len(goods))
	byGoods := make(map[int64][]Good)
	for _, g := range goods {
		bySku[g.SkuID] = g
		byGoods[g.GoodsID] = append(byGoods[g.GoodsID], g)
	}
	fp := Fingerprint(goods)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.bySku = bySku
	w.byGoods = byGoods
	w.fingerprint = fp
}

func (w *SaleWindow) Sku(skuID int64) (Good, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	g, ok := w.bySku[skuID]
	return g, ok
}

// Goods 返回某个 goods 下的所有 sku，不存在时返回 false。
func (w *SaleWindow) Goods(goodsID int64) ([]Good, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	gs, ok := w.byGoods[goodsID]
	return gs, ok
}

// List 按 sku 升序返回窗口内的全部商品。
func (w *SaleWindow) List() []Good {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Good, 0, len(w.bySku))
	for _, g := range w.bySku {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkuID < out[j].SkuID })
	return out
}

func (w *SaleWindow) Fingerprint() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fingerprint
}

// Fingerprint 计算一批商品的窗口指纹，只用于展示和日志。
// 只取 sku、初始库存和时间窗口，与顺序无关。
func Fingerprint(goods []Good) string {
	keys := make([]string, 0, len(goods))
	for _, g := range goods {
		keys = append(keys, fmt.Sprintf("%d:%d:%d:%d", g.SkuID, g.Stock, g.SaleStart.Unix(), g.SaleEnd.Unix()))
	}
	sort.Strings(keys)
	h := sha1.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
