package domain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoldOutGate_MarkAndReset(t *testing.T) {
	g := NewSoldOutGate()
	assert.False(t, g.IsMarkedSoldOut(42))

	assert.True(t, g.MarkSoldOutAt(42, g.Generation()))
	assert.True(t, g.IsMarkedSoldOut(42))
	assert.False(t, g.IsMarkedSoldOut(43))

	g.Reset([]int64{42, 43})
	assert.False(t, g.IsMarkedSoldOut(42))
	assert.False(t, g.IsMarkedSoldOut(43))
}

func TestSoldOutGate_StaleGenerationIgnored(t *testing.T) {
	g := NewSoldOutGate()
	before := g.Generation()

	after := g.Reset([]int64{42})
	assert.Equal(t, before+1, after)
	assert.Equal(t, after, g.Generation())

	assert.False(t, g.MarkSoldOutAt(42, before), "observation from before the reset")
	assert.False(t, g.IsMarkedSoldOut(42))

	assert.True(t, g.MarkSoldOutAt(42, after))
	assert.True(t, g.IsMarkedSoldOut(42))
}

func TestSoldOutGate_ConcurrentAccess(t *testing.T) {
	g := NewSoldOutGate()
	gen := g.Generation()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			g.MarkSoldOutAt(id%5, gen)
		}(int64(i))
		go func(id int64) {
			defer wg.Done()
			_ = g.IsMarkedSoldOut(id % 5)
		}(int64(i))
	}
	wg.Wait()
	for i := int64(0); i < 5; i++ {
		assert.True(t, g.IsMarkedSoldOut(i))
	}
}

func TestGood_OnSale(t *testing.T) {
	start := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	g := Good{SaleStart: start, SaleEnd: start.Add(time.Hour)}

	assert.False(t, g.OnSale(start.Add(-time.Nanosecond)))
	assert.True(t, g.OnSale(start))
	assert.True(t, g.OnSale(start.Add(59*time.Minute)))
	assert.False(t, g.OnSale(start.Add(time.Hour)))
}

func TestGood_SessionKey(t *testing.T) {
	start := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	g := Good{GoodsID: 7, SkuID: 42, Stock: 5, SaleStart: start, SaleEnd: start.Add(time.Hour)}

	restocked := g
	restocked.Stock = 3
	assert.Equal(t, g.SessionKey(), restocked.SessionKey(), "stock is not part of the session")

	nextDay := g
	nextDay.SaleStart = start.Add(24 * time.Hour)
	nextDay.SaleEnd = nextDay.SaleStart.Add(time.Hour)
	assert.NotEqual(t, g.SessionKey(), nextDay.SessionKey())
}

func TestSaleWindow_Replace(t *testing.T) {
	start := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	w := NewSaleWindow()
	_, ok := w.Sku(42)
	assert.False(t, ok)
	assert.Empty(t, w.List())

	goods := []Good{
		{GoodsID: 7, SkuID: 43, Stock: 1, SaleStart: start, SaleEnd: start.Add(time.Hour)},
		{GoodsID: 7, SkuID: 42, Stock: 2, SaleStart: start, SaleEnd: start.Add(time.Hour)},
		{GoodsID: 8, SkuID: 50, Stock: 3, SaleStart: start, SaleEnd: start.Add(time.Hour)},
	}
	w.Replace(goods)

	g, ok := w.Sku(42)
	require.True(t, ok)
	assert.Equal(t, int64(7), g.GoodsID)

	skus, ok := w.Goods(7)
	require.True(t, ok)
	assert.Len(t, skus, 2)

	list := w.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{42, 43, 50}, []int64{list[0].SkuID, list[1].SkuID, list[2].SkuID})
	assert.Equal(t, Fingerprint(goods), w.Fingerprint())

	w.Replace(nil)
	_, ok = w.Goods(7)
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	start := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	a := Good{SkuID: 1, Stock: 2, SaleStart: start, SaleEnd: start.Add(time.Hour)}
	b := Good{SkuID: 2, Stock: 5, SaleStart: start, SaleEnd: start.Add(time.Hour)}

	assert.Equal(t, Fingerprint([]Good{a, b}), Fingerprint([]Good{b, a}), "order must not matter")

	changed := b
	changed.Stock = 6
	assert.NotEqual(t, Fingerprint([]Good{a, b}), Fingerprint([]Good{a, changed}))
	assert.NotEmpty(t, Fingerprint(nil))
}

func TestDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		wantErr  error
		outcome  string
	}{
		{"admitted", Admitted(&PurchaseIntent{IntentID: "x"}), nil, "admitted"},
		{"bad token", Rejected(ReasonBadToken), ErrBadToken, "bad_token"},
		{"sold out", Rejected(ReasonSoldOut), ErrSoldOut, "sold_out"},
		{"not eligible", Rejected(ReasonNotEligible), ErrNotEligible, "not_eligible"},
		{"system busy", Rejected(ReasonSystemBusy), ErrSystemBusy, "system_busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr == nil, tt.decision.IsAdmitted())
			assert.Equal(t, tt.wantErr, tt.decision.Err())
			assert.Equal(t, tt.outcome, tt.decision.Outcome())
		})
	}
}
