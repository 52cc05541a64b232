package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"seckill/internal/pkg/metrics"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
	"seckill/internal/service/seckill/infrastructure/adapter"
)

var saleStart = time.Date(2026, 11, 11, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingLedger 统计对账本的扣减调用次数
type countingLedger struct {
	port.StockLedger
	reserveCalls atomic.Int64
	reserveErr   error
	releaseErr   error
	// afterReserve 在扣减返回之前执行，用来模拟扣减与激活交错
	afterReserve func()
}

func (l *countingLedger) TryReserve(ctx context.Context, skuID int64) (domain.ReserveResult, error) {
	l.reserveCalls.Add(1)
	if l.reserveErr != nil {
		return 0, l.reserveErr
	}
	res, err := l.StockLedger.TryReserve(ctx, skuID)
	if hook := l.afterReserve; hook != nil {
		l.afterReserve = nil
		hook()
	}
	return res, err
}

func (l *countingLedger) Release(ctx context.Context, skuID int64) error {
	if l.releaseErr != nil {
		return l.releaseErr
	}
	return l.StockLedger.Release(ctx, skuID)
}

type fakePublisher struct {
	mu      sync.Mutex
	intents []domain.PurchaseIntent
	err     error
	block   bool
}

func (p *fakePublisher) Publish(ctx context.Context, intent domain.PurchaseIntent) error {
	p.mu.Lock()
	err, block := p.err, p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, intent)
	return nil
}

func (p *fakePublisher) set(err error, block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err, p.block = err, block
}

func (p *fakePublisher) published() []domain.PurchaseIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PurchaseIntent(nil), p.intents...)
}

type fakeCatalog struct {
	goods []domain.Good
	err   error
}

func (c *fakeCatalog) ListEligibleGoods(context.Context) ([]domain.Good, error) {
	return c.goods, c.err
}

type fakeOrders map[int64]int64

func (o fakeOrders) FindOrderID(_ context.Context, userID int64) (int64, error) {
	if id, ok := o[userID]; ok {
		return id, nil
	}
	return 0, domain.ErrOrderNotFound
}

type fakeAuth map[string]*domain.UserInfo

func (a fakeAuth) CurrentUser(_ context.Context, credential string) (*domain.UserInfo, error) {
	if u, ok := a[credential]; ok {
		return u, nil
	}
	return nil, domain.ErrUnauthorized
}

type countingLocker struct {
	acquired atomic.Int64
	released atomic.Int64
	err      error
}

func (l *countingLocker) Acquire(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, nil
}

type fixture struct {
	clock     *testClock
	window    *domain.SaleWindow
	gate      *domain.SoldOutGate
	ledger    *countingLedger
	tokens    *adapter.TokenMemoryAdapter
	publisher *fakePublisher
	catalog   *fakeCatalog
	locker    *countingLocker
	metrics   *metrics.Metrics
	issuer    *TokenIssuer
	admission *AdmissionController
	service   *SeckillService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	issuer         IssuerConfig
	publishTimeout time.Duration
	ledger         port.StockLedger
}

func withPublishTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.publishTimeout = d }
}

func withLedger(l port.StockLedger) fixtureOption {
	return func(c *fixtureConfig) { c.ledger = l }
}

func newFixture(t *testing.T, goods []domain.Good, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		issuer: IssuerConfig{
			RateLimit:       5,
			RateLimitWindow: 20 * time.Second,
			TokenTTL:        60 * time.Second,
		},
		publishTimeout: 2 * time.Second,
		ledger:         adapter.NewLedgerMemoryAdapter(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		clock:     &testClock{now: saleStart.Add(time.Minute)},
		window:    domain.NewSaleWindow(),
		gate:      domain.NewSoldOutGate(),
		ledger:    &countingLedger{StockLedger: cfg.ledger},
		tokens:    adapter.NewTokenMemoryAdapter(),
		publisher: &fakePublisher{},
		catalog:   &fakeCatalog{goods: goods},
		locker:    &countingLocker{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	f.issuer = NewTokenIssuer(cfg.issuer, f.window, f.tokens, adapter.NewRateLimitMemoryAdapter(), f.metrics, tracer, f.clock.Now)
	f.admission = NewAdmissionController(f.issuer, f.window, f.gate, f.ledger, f.publisher, cfg.publishTimeout, f.metrics, tracer, f.clock.Now)
	f.service = NewSeckillService(Deps{
		Catalog:   f.catalog,
		Orders:    fakeOrders{1001: 9001},
		Auth:      fakeAuth{"alice": {ID: 1001, Username: "alice"}},
		Ledger:    f.ledger,
		Locker:    f.locker,
		Window:    f.window,
		Gate:      f.gate,
		Issuer:    f.issuer,
		Admission: f.admission,
		Tracer:    tracer,
		Now:       f.clock.Now,
	})
	return f
}

// activate 激活窗口，失败直接终止测试
func (f *fixture) activate(t *testing.T) {
	t.Helper()
	_, err := f.service.Activate(context.Background(), false)
	require.NoError(t, err)
}

func (f *fixture) issue(t *testing.T, userID, goodsID int64) string {
	t.Helper()
	token, err := f.issuer.Issue(context.Background(), &domain.UserInfo{ID: userID}, goodsID)
	require.NoError(t, err)
	return token.Token
}

func good(goodsID, skuID, stock int64) domain.Good {
	return domain.Good{
		GoodsID:   goodsID,
		SkuID:     skuID,
		Title:     "flash sale item",
		Stock:     stock,
		SaleStart: saleStart,
		SaleEnd:   saleStart.Add(time.Hour),
	}
}

var errBrokerDown = errors.New("broker down")
