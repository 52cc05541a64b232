package adapter

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain"
)

const (
	reserveScriptName   = "ledger_reserve"
	releaseScriptName   = "ledger_release"
	reconcileScriptName = "ledger_reconcile"

	// 同一个 hash tag 保证集群模式下脚本和事务里的 key 落在同一个 slot
	stockKey   = "seckill:{ledger}:stock"
	sessionKey = "seckill:{ledger}:session"
)

// LedgerRedisAdapter 是 port.StockLedger 的 Redis 实现。
// 所有 sku 的剩余库存放在同一个 hash 里，field 为 skuId；
// 另一个 hash 记录每个 sku 当前库存属于哪一场(SessionKey)。
type LedgerRedisAdapter struct {
	redisClient *redis.Client
}

// NewLedgerRedisAdapter 创建适配器，并在创建时加载扣减和回补脚本。
func NewLedgerRedisAdapter(redisClient *redis.Client) (*LedgerRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(reserveScriptName, reserveScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical ledger reserve script")
	}
	if err := redisClient.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical ledger release script")
	}
	if err := redisClient.LoadScriptFromContent(reconcileScriptName, reconcileScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical ledger reconcile script")
	}
	return &LedgerRedisAdapter{redisClient: redisClient}, nil
}

func (a *LedgerRedisAdapter) TryReserve(ctx context.Context, skuID int64) (domain.ReserveResult, error) {
	result, err := a.redisClient.RunScript(ctx, reserveScriptName, []string{stockKey}, skuField(skuID))
	if err != nil {
		return 0, errors.Wrapf(err, "ledger reserve sku %d", skuID)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, errors.Errorf("unexpected result type from reserve script: %T", result)
	}

	switch code {
	case 1:
		return domain.ReserveReserved, nil
	case 0:
		return domain.ReserveExhausted, nil
	case -1:
		return domain.ReserveUnknown, nil
	default:
		return 0, errors.Errorf("unknown result code from reserve script: %d", code)
	}
}

func (a *LedgerRedisAdapter) Release(ctx context.Context, skuID int64) error {
	result, err := a.redisClient.RunScript(ctx, releaseScriptName, []string{stockKey}, skuField(skuID))
	if err != nil {
		return errors.Wrapf(err, "ledger release sku %d", skuID)
	}
	if code, ok := result.(int64); ok && code == -1 {
		return domain.ErrUnknownSku
	}
	return nil
}

// Seed 在一个 MULTI 事务里清空旧账本，再写入新库存和场次。
func (a *LedgerRedisAdapter) Seed(ctx context.Context, goods []domain.Good) error {
	stocks := make(map[string]interface{}, len(goods))
	sessions := make(map[string]interface{}, len(goods))
	for _, g := range goods {
		stocks[skuField(g.SkuID)] = seedStock(g)
		sessions[skuField(g.SkuID)] = g.SessionKey()
	}

	_, err := a.redisClient.GetClient().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, stockKey, sessionKey)
		if len(goods) > 0 {
			pipe.HSet(ctx, stockKey, stocks)
			pipe.HSet(ctx, sessionKey, sessions)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "seed ledger with %d skus", len(goods))
	}
	return nil
}

// Reconcile 用脚本逐个比对场次，只有场次变化的 sku 才会被重置库存。
func (a *LedgerRedisAdapter) Reconcile(ctx context.Context, goods []domain.Good) ([]int64, error) {
	if len(goods) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(goods)*3)
	for _, g := range goods {
		args = append(args, skuField(g.SkuID), seedStock(g), g.SessionKey())
	}

	result, err := a.redisClient.RunScript(ctx, reconcileScriptName, []string{stockKey, sessionKey}, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "reconcile ledger with %d skus", len(goods))
	}
	fields, ok := result.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected result type from reconcile script: %T", result)
	}

	seeded := make([]int64, 0, len(fields))
	for _, f := range fields {
		field, ok := f.(string)
		if !ok {
			return nil, errors.Errorf("unexpected sku field type from reconcile script: %T", f)
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse reconciled sku %q", field)
		}
		seeded = append(seeded, id)
	}
	return seeded, nil
}

func (a *LedgerRedisAdapter) Remaining(ctx context.Context, skuID int64) (int64, bool, error) {
	n, err := a.redisClient.GetClient().HGet(ctx, stockKey, skuField(skuID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "read remaining stock of sku %d", skuID)
	}
	return n, true, nil
}

func skuField(skuID int64) string {
	return strconv.FormatInt(skuID, 10)
}

func seedStock(g domain.Good) int64 {
	if g.Stock < 0 {
		return 0
	}
	return g.Stock
}

var reserveScript = `
-- KEYS[1]: 库存 hash, 例如: seckill:{ledger}:stock
-- ARGV[1]: skuId

local stock = redis.call('hget', KEYS[1], ARGV[1])
if not stock then
    return -1 -- sku 未 seed
end

if tonumber(stock) <= 0 then
    return 0 -- 已售罄
end

redis.call('hincrby', KEYS[1], ARGV[1], -1)
return 1
`

var releaseScript = `
-- KEYS[1]: 库存 hash
-- ARGV[1]: skuId

if redis.call('hexists', KEYS[1], ARGV[1]) == 0 then
    return -1
end
return redis.call('hincrby', KEYS[1], ARGV[1], 1)
`

var reconcileScript = `
-- KEYS[1]: 库存 hash
-- KEYS[2]: 场次 hash
-- ARGV: 每三个一组 skuId, 库存, 场次

local seeded = {}
for i = 1, #ARGV, 3 do
    local sku, stock, session = ARGV[i], ARGV[i + 1], ARGV[i + 2]
    if redis.call('hget', KEYS[2], sku) ~= session then
        redis.call('hset', KEYS[1], sku, stock)
        redis.call('hset', KEYS[2], sku, session)
        table.insert(seeded, sku)
    end
end
return seeded
`
