package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/metrics"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
)

const issuePathAction = "issue_path"

// IssuerConfig 是令牌签发的限流和有效期配置
type IssuerConfig struct {
	RateLimit       int
	RateLimitWindow time.Duration
	TokenTTL        time.Duration
}

// TokenIssuer 签发和校验一次性秒杀路径令牌。签发和校验是两个独立的调用。
type TokenIssuer struct {
	cfg     IssuerConfig
	window  *domain.SaleWindow
	store   port.TokenStore
	limiter port.RateLimiter
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewTokenIssuer(
	cfg IssuerConfig,
	window *domain.SaleWindow,
	store port.TokenStore,
	limiter port.RateLimiter,
	m *metrics.Metrics,
	tracer trace.Tracer,
	now func() time.Time,
) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		cfg:     cfg,
		window:  window,
		store:   store,
		limiter: limiter,
		metrics: m,
		tracer:  tracer,
		now:     now,
	}
}

// Issue 为 user+goods 签发一个新令牌，会替换之前签发的令牌。
func (i *TokenIssuer) Issue(ctx context.Context, user *domain.UserInfo, goodsID int64) (token *domain.AccessToken, err error) {
	ctx, span := i.tracer.Start(ctx, "TokenIssuer.Issue")
	defer span.End()
	span.SetAttributes(attribute.Int64("goods.id", goodsID))

	defer func() {
		i.metrics.TokenIssues.WithLabelValues(issueOutcome(err)).Inc()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if user == nil || user.ID <= 0 {
		return nil, domain.ErrUnauthorized
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	now := i.now()
	key := fmt.Sprintf("%d:%s", user.ID, issuePathAction)
	decision, err := i.limiter.Allow(ctx, key, i.cfg.RateLimit, i.cfg.RateLimitWindow, now)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("user_id", user.ID).Msg("rate limiter unavailable")
		return nil, fmt.Errorf("%w: %v", domain.ErrSystemBusy, err)
	}
	if !decision.Allowed {
		logger.Ctx(ctx).Info().Int64("user_id", user.ID).Time("reset_at", decision.ResetAt).Msg("path token rate limited")
		return nil, domain.ErrRateLimited
	}

	saleEnd, ok := i.openUntil(goodsID, now)
	if !ok {
		return nil, domain.ErrNotEligible
	}

	// 有效期必须严格短于窗口剩余时间
	ttl := i.cfg.TokenTTL
	if remaining := saleEnd.Sub(now) - time.Millisecond; remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil, domain.ErrNotEligible
	}

	token = &domain.AccessToken{
		GoodsID:   goodsID,
		UserID:    user.ID,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := i.store.Save(ctx, token); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("user_id", user.ID).Msg("failed to save path token")
		return nil, fmt.Errorf("%w: %v", domain.ErrSystemBusy, err)
	}

	logger.Ctx(ctx).Debug().Int64("user_id", user.ID).Int64("goods_id", goodsID).Dur("ttl", ttl).Msg("path token issued")
	return token, nil
}

// openUntil 返回该 goods 当前在售 sku 中最晚的结束时间，没有在售 sku 时返回 false。
func (i *TokenIssuer) openUntil(goodsID int64, now time.Time) (time.Time, bool) {
	skus, ok := i.window.Goods(goodsID)
	if !ok {
		return time.Time{}, false
	}
	var end time.Time
	for _, g := range skus {
		if g.OnSale(now) && g.SaleEnd.After(end) {
			end = g.SaleEnd
		}
	}
	return end, !end.IsZero()
}

// ValidateAndConsume 校验令牌绑定和有效期，校验通过的令牌立即失效。
func (i *TokenIssuer) ValidateAndConsume(ctx context.Context, token string, userID, goodsID int64) (domain.TokenStatus, error) {
	ctx, span := i.tracer.Start(ctx, "TokenIssuer.ValidateAndConsume")
	defer span.End()

	status, err := i.store.Consume(ctx, token, userID, goodsID, i.now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.String("token.status", status.String()))
	return status, nil
}

func issueOutcome(err error) string {
	switch {
	case err == nil:
		return "issued"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrNotEligible):
		return "not_eligible"
	default:
		return "system_busy"
	}
}
