package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.Wrap(rdb), mr
}

func ledgerFactories(t *testing.T) map[string]func() port.StockLedger {
	return map[string]func() port.StockLedger{
		"memory": func() port.StockLedger { return NewLedgerMemoryAdapter() },
		"redis": func() port.StockLedger {
			client, _ := newTestRedis(t)
			l, err := NewLedgerRedisAdapter(client)
			require.NoError(t, err)
			return l
		},
	}
}

func testGoods(skuID, stock int64) domain.Good {
	start := time.Now().Add(-time.Minute)
	return domain.Good{GoodsID: 7, SkuID: skuID, Stock: stock, SaleStart: start, SaleEnd: start.Add(time.Hour)}
}

func TestLedger_ReserveUntilExhausted(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			require.NoError(t, l.Seed(ctx, []domain.Good{testGoods(42, 2)}))

			for i := 0; i < 2; i++ {
				res, err := l.TryReserve(ctx, 42)
				require.NoError(t, err)
				assert.Equal(t, domain.ReserveReserved, res)
			}
			res, err := l.TryReserve(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, domain.ReserveExhausted, res)

			remaining, ok, err := l.Remaining(ctx, 42)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(0), remaining)
		})
	}
}

func TestLedger_UnknownSku(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()

			// 未 seed 时所有 sku 都是 Unknown
			res, err := l.TryReserve(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, domain.ReserveUnknown, res)
			assert.ErrorIs(t, l.Release(ctx, 42), domain.ErrUnknownSku)

			_, ok, err := l.Remaining(ctx, 42)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLedger_ReleaseRestoresUnit(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			require.NoError(t, l.Seed(ctx, []domain.Good{testGoods(42, 1)}))

			res, err := l.TryReserve(ctx, 42)
			require.NoError(t, err)
			require.Equal(t, domain.ReserveReserved, res)

			require.NoError(t, l.Release(ctx, 42))

			res, err = l.TryReserve(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, domain.ReserveReserved, res)
		})
	}
}

func TestLedger_SeedReplacesPreviousWindow(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			require.NoError(t, l.Seed(ctx, []domain.Good{testGoods(42, 1), testGoods(43, 1)}))
			require.NoError(t, l.Seed(ctx, []domain.Good{testGoods(44, 3)}))

			res, err := l.TryReserve(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, domain.ReserveUnknown, res)

			remaining, ok, err := l.Remaining(ctx, 44)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(3), remaining)
		})
	}
}

func TestLedger_ReconcileKeepsSoldStock(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			a, b := testGoods(11, 5), testGoods(22, 1)

			seeded, err := l.Reconcile(ctx, []domain.Good{a, b})
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{11, 22}, seeded)

			res, err := l.TryReserve(ctx, 22)
			require.NoError(t, err)
			require.Equal(t, domain.ReserveReserved, res)

			// 目录里少了 A，B 的场次没变：B 不回补，A 的账目也保留
			seeded, err = l.Reconcile(ctx, []domain.Good{b})
			require.NoError(t, err)
			assert.Empty(t, seeded)

			remaining, ok, err := l.Remaining(ctx, 22)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(0), remaining)

			remaining, ok, err = l.Remaining(ctx, 11)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(5), remaining)

			// 库存数字变了但场次没变，同样不回补
			b.Stock = 100
			seeded, err = l.Reconcile(ctx, []domain.Good{b})
			require.NoError(t, err)
			assert.Empty(t, seeded)

			// 换了一场，重新写入目录库存
			b.SaleStart = b.SaleStart.Add(24 * time.Hour)
			b.SaleEnd = b.SaleEnd.Add(24 * time.Hour)
			c := testGoods(33, -2)
			seeded, err = l.Reconcile(ctx, []domain.Good{b, c})
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{22, 33}, seeded)

			remaining, _, err = l.Remaining(ctx, 22)
			require.NoError(t, err)
			assert.Equal(t, int64(100), remaining)

			remaining, ok, err = l.Remaining(ctx, 33)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(0), remaining, "negative stock is clamped")
		})
	}
}

func TestLedger_SeedDiscardsSessions(t *testing.T) {
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			g := testGoods(42, 2)
			require.NoError(t, l.Seed(ctx, []domain.Good{g}))

			seeded, err := l.Reconcile(ctx, []domain.Good{g})
			require.NoError(t, err)
			assert.Empty(t, seeded, "seed records the session")

			require.NoError(t, l.Seed(ctx, nil))
			seeded, err = l.Reconcile(ctx, []domain.Good{g})
			require.NoError(t, err)
			assert.Equal(t, []int64{42}, seeded)
		})
	}
}

func TestLedger_NoOversellUnderConcurrency(t *testing.T) {
	const (
		stock   = 10
		callers = 200
	)
	for name, newLedger := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			require.NoError(t, l.Seed(ctx, []domain.Good{testGoods(42, stock)}))

			var (
				wg        sync.WaitGroup
				reserved  atomic.Int64
				exhausted atomic.Int64
			)
			start := make(chan struct{})
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := l.TryReserve(ctx, 42)
					if !assert.NoError(t, err) {
						return
					}
					switch res {
					case domain.ReserveReserved:
						reserved.Add(1)
					case domain.ReserveExhausted:
						exhausted.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int64(stock), reserved.Load())
			assert.Equal(t, int64(callers-stock), exhausted.Load())

			remaining, _, err := l.Remaining(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, int64(0), remaining)
		})
	}
}
