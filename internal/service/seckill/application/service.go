package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
)

// 重新推导售罄门时并发读取账本的上限
const rederiveConcurrency = 8

// SeckillService 定义了秒杀服务对外提供的所有业务用例
type SeckillService struct {
	catalog   port.Catalog
	orders    port.OrderLookup
	auth      port.Authenticator
	ledger    port.StockLedger
	locker    port.ActivationLocker
	window    *domain.SaleWindow
	gate      *domain.SoldOutGate
	issuer    *TokenIssuer
	admission *AdmissionController
	tracer    trace.Tracer
	now       func() time.Time

	// 同一进程内的激活串行执行，跨实例由 locker 保证
	activateMu sync.Mutex
}

// Deps 汇总 SeckillService 的全部依赖
type Deps struct {
	Catalog   port.Catalog
	Orders    port.OrderLookup
	Auth      port.Authenticator
	Ledger    port.StockLedger
	Locker    port.ActivationLocker
	Window    *domain.SaleWindow
	Gate      *domain.SoldOutGate
	Issuer    *TokenIssuer
	Admission *AdmissionController
	Tracer    trace.Tracer
	Now       func() time.Time
}

// NewSeckillService 创建一个新的秒杀服务实例
func NewSeckillService(d Deps) *SeckillService {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &SeckillService{
		catalog:   d.Catalog,
		orders:    d.Orders,
		auth:      d.Auth,
		ledger:    d.Ledger,
		locker:    d.Locker,
		window:    d.Window,
		gate:      d.Gate,
		issuer:    d.Issuer,
		admission: d.Admission,
		tracer:    d.Tracer,
		now:       d.Now,
	}
}

// Activate 激活秒杀窗口：从目录读取商品，合并进账本并重建售罄门。
// 默认按 sku 的场次合并，已经在账本里的同一场 sku 保留剩余量，
// 所以进程在窗口中途重启或者目录里别的商品下架都不会把已经卖出的库存放出来。
// force 会整体重写账本，只允许在没有任何 sku 正在售卖时执行。
func (s *SeckillService) Activate(ctx context.Context, force bool) (*ActivateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Activate")
	defer span.End()
	span.SetAttributes(attribute.Bool("activate.force", force))

	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "acquire window activation lock")
	}
	defer release()

	goods, err := s.catalog.ListEligibleGoods(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list eligible goods")
	}
	skuIDs := make([]int64, 0, len(goods))
	for _, g := range goods {
		skuIDs = append(skuIDs, g.SkuID)
	}

	resp := &ActivateResponse{Skus: len(goods)}
	if force {
		if err := s.ensureNotSelling(ctx, goods); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if err := s.ledger.Seed(ctx, goods); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "seed ledger")
		}
		resp.Reseeded = true
		resp.Seeded = skuIDs
	} else {
		seeded, err := s.ledger.Reconcile(ctx, goods)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "reconcile ledger")
		}
		resp.Seeded = seeded
	}

	s.window.Replace(goods)
	generation := s.gate.Reset(skuIDs)
	soldOut, err := s.rederiveGate(ctx, skuIDs, generation)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	resp.SoldOut = soldOut
	resp.Window = s.window.Fingerprint()

	logger.Ctx(ctx).Info().Str("window", resp.Window).Int("skus", len(goods)).Bool("reseeded", resp.Reseeded).
		Int("seeded", len(resp.Seeded)).Int("sold_out", len(soldOut)).Msg("🚀 seckill window activated")
	return resp, nil
}

// ensureNotSelling 检查新旧窗口里是否有正在售卖且已经入账的 sku。
func (s *SeckillService) ensureNotSelling(ctx context.Context, goods []domain.Good) error {
	now := s.now()
	for _, g := range append(s.window.List(), goods...) {
		if !g.OnSale(now) {
			continue
		}
		_, ok, err := s.ledger.Remaining(ctx, g.SkuID)
		if err != nil {
			return errors.Wrapf(err, "read remaining stock of sku %d", g.SkuID)
		}
		if ok {
			logger.Ctx(ctx).Warn().Int64("sku_id", g.SkuID).Msg("⛔ forced reseed refused, sku is selling")
			return errors.Wrapf(domain.ErrWindowSelling, "sku %d", g.SkuID)
		}
	}
	return nil
}

func (s *SeckillService) rederiveGate(ctx context.Context, skuIDs []int64, generation uint64) ([]int64, error) {
	var (
		mu      sync.Mutex
		soldOut []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rederiveConcurrency)
	for _, id := range skuIDs {
		g.Go(func() error {
			remaining, ok, err := s.ledger.Remaining(gctx, id)
			if err != nil {
				return errors.Wrapf(err, "read remaining stock of sku %d", id)
			}
			if ok && remaining <= 0 && s.gate.MarkSoldOutAt(id, generation) {
				mu.Lock()
				soldOut = append(soldOut, id)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return soldOut, nil
}

// Authenticate 根据请求凭证解析当前用户
func (s *SeckillService) Authenticate(ctx context.Context, credential string) (*domain.UserInfo, error) {
	return s.auth.CurrentUser(ctx, credential)
}

// RequestToken 为用户签发秒杀路径
func (s *SeckillService) RequestToken(ctx context.Context, user *domain.UserInfo, goodsID int64) (*PathTokenResponse, error) {
	token, err := s.issuer.Issue(ctx, user, goodsID)
	if err != nil {
		return nil, err
	}
	return &PathTokenResponse{Path: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

// AttemptPurchase 使用路径令牌尝试秒杀
func (s *SeckillService) AttemptPurchase(ctx context.Context, req domain.PurchaseRequest) domain.Decision {
	return s.admission.Admit(ctx, req)
}

// CheckOrder 查询用户的秒杀订单号
func (s *SeckillService) CheckOrder(ctx context.Context, userID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "service.CheckOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	id, err := s.orders.FindOrderID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		span.RecordError(err)
	}
	return id, err
}

// ListGoods 返回当前窗口内的商品以及账本中的实时剩余量
func (s *SeckillService) ListGoods(ctx context.Context) ([]GoodsView, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListGoods")
	defer span.End()

	goods := s.window.List()
	views := make([]GoodsView, 0, len(goods))
	for _, g := range goods {
		remaining, ok, err := s.ledger.Remaining(ctx, g.SkuID)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrapf(err, "read remaining stock of sku %d", g.SkuID)
		}
		if !ok {
			remaining = 0
		}
		views = append(views, GoodsView{
			Good:      g,
			Remaining: remaining,
			SoldOut:   remaining <= 0 || s.gate.IsMarkedSoldOut(g.SkuID),
		})
	}
	return views, nil
}
