package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/metrics"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
)

// TokenValidator 是准入时用到的令牌校验能力，由 TokenIssuer 实现。
type TokenValidator interface {
	ValidateAndConsume(ctx context.Context, token string, userID, goodsID int64) (domain.TokenStatus, error)
}

// AdmissionController 编排 令牌校验 → 售罄门 → 账本扣减 → 意图投递。
// 账本和售罄门由调用方注入，多个请求共享同一份。
type AdmissionController struct {
	tokens         TokenValidator
	window         *domain.SaleWindow
	gate           *domain.SoldOutGate
	ledger         port.StockLedger
	publisher      port.IntentPublisher
	publishTimeout time.Duration
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
}

func NewAdmissionController(
	tokens TokenValidator,
	window *domain.SaleWindow,
	gate *domain.SoldOutGate,
	ledger port.StockLedger,
	publisher port.IntentPublisher,
	publishTimeout time.Duration,
	m *metrics.Metrics,
	tracer trace.Tracer,
	now func() time.Time,
) *AdmissionController {
	if now == nil {
		now = time.Now
	}
	return &AdmissionController{
		tokens:         tokens,
		window:         window,
		gate:           gate,
		ledger:         ledger,
		publisher:      publisher,
		publishTimeout: publishTimeout,
		metrics:        m,
		tracer:         tracer,
		now:            now,
	}
}

// Admit 对一次下单尝试做出准入决定。它从不返回错误，所有失败都体现为 Rejected(reason)。
func (c *AdmissionController) Admit(ctx context.Context, req domain.PurchaseRequest) (decision domain.Decision) {
	ctx, span := c.tracer.Start(ctx, "AdmissionController.Admit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int64("goods.id", req.GoodsID),
		attribute.Int64("sku.id", req.SkuID),
	)
	log := logger.Ctx(ctx).With().Int64("user_id", req.UserID).Int64("sku_id", req.SkuID).Logger()

	defer func() {
		outcome := decision.Outcome()
		c.metrics.Admissions.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("admission.outcome", outcome))
	}()

	span.AddEvent(string(domain.StateValidatingToken))
	status, err := c.tokens.ValidateAndConsume(ctx, req.Token, req.UserID, req.GoodsID)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("token store unavailable")
		return domain.Rejected(domain.ReasonSystemBusy)
	}
	if status != domain.TokenValid {
		log.Debug().Str("token_status", status.String()).Msg("bad path token")
		return domain.Rejected(domain.ReasonBadToken)
	}

	// sku 必须属于当前窗口且属于令牌绑定的 goods，否则不触碰账本
	good, ok := c.window.Sku(req.SkuID)
	if !ok || good.GoodsID != req.GoodsID {
		return domain.Rejected(domain.ReasonNotEligible)
	}

	span.AddEvent(string(domain.StateCheckingGate))
	generation := c.gate.Generation()
	if c.gate.IsMarkedSoldOut(req.SkuID) {
		c.metrics.GateHits.Inc()
		return domain.Rejected(domain.ReasonSoldOut)
	}

	span.AddEvent(string(domain.StateReserving))
	result, err := c.ledger.TryReserve(ctx, req.SkuID)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("ledger reserve failed")
		return domain.Rejected(domain.ReasonSystemBusy)
	}
	switch result {
	case domain.ReserveExhausted:
		// 期间窗口被重新激活过的话，这次观察属于旧账本，不能关新门
		if c.gate.MarkSoldOutAt(req.SkuID, generation) {
			log.Info().Msg("🈵 sku sold out, gate closed")
		}
		return domain.Rejected(domain.ReasonSoldOut)
	case domain.ReserveUnknown:
		return domain.Rejected(domain.ReasonNotEligible)
	}

	span.AddEvent(string(domain.StatePublishing))
	intent := &domain.PurchaseIntent{
		IntentID:    uuid.NewString(),
		UserID:      req.UserID,
		GoodsID:     req.GoodsID,
		SkuID:       req.SkuID,
		RequestedAt: c.now(),
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		intent.TraceID = sc.TraceID().String()
	}

	if err := c.publish(ctx, *intent); err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Str("intent_id", intent.IntentID).Msg("hand-off failed, releasing reserved unit")
		c.compensate(ctx, req.SkuID)
		return domain.Rejected(domain.ReasonSystemBusy)
	}

	log.Info().Str("intent_id", intent.IntentID).Msg("✅ purchase admitted")
	return domain.Admitted(intent)
}

func (c *AdmissionController) publish(ctx context.Context, intent domain.PurchaseIntent) error {
	pctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	start := time.Now()
	err := c.publisher.Publish(pctx, intent)
	c.metrics.HandoffLatency.Observe(time.Since(start).Seconds())
	return err
}

// compensate 把预留的一个单位还给账本。
// 用独立的有界 context，请求本身超时或被取消时补偿仍然要执行。
func (c *AdmissionController) compensate(ctx context.Context, skuID int64) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	defer cancel()

	if err := c.ledger.Release(rctx, skuID); err != nil {
		c.metrics.Compensations.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Error().Err(err).Int64("sku_id", skuID).Msg("❌ failed to release reserved unit, stock is lost until next activation")
		return
	}
	c.metrics.Compensations.WithLabelValues("released").Inc()
}
