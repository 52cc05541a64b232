package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain"
)

const (
	consumeTokenScriptName = "path_token_consume"

	// key 比令牌多保留一段时间，这样过期后的校验能报告 expired 而不是 invalid
	tokenKeyGrace = time.Minute
)

// TokenRedisAdapter 把路径令牌保存在 hash 里：token 字段和毫秒级的 exp 字段。
type TokenRedisAdapter struct {
	redisClient *redis.Client
}

func NewTokenRedisAdapter(redisClient *redis.Client) (*TokenRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(consumeTokenScriptName, consumeTokenScript); err != nil {
		return nil, errors.Wrap(err, "failed to load path token script")
	}
	return &TokenRedisAdapter{redisClient: redisClient}, nil
}

func tokenKey(userID, goodsID int64) string {
	return fmt.Sprintf("seckill:path:{%d}:%d", userID, goodsID)
}

// Save 覆盖同一 user+goods 之前签发的令牌。
func (a *TokenRedisAdapter) Save(ctx context.Context, token *domain.AccessToken) error {
	key := tokenKey(token.UserID, token.GoodsID)
	_, err := a.redisClient.GetClient().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "token", token.Token, "exp", token.ExpiresAt.UnixMilli())
		pipe.PExpire(ctx, key, token.TTL()+tokenKeyGrace)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save path token for user %d goods %d", token.UserID, token.GoodsID)
	}
	return nil
}

func (a *TokenRedisAdapter) Consume(ctx context.Context, token string, userID, goodsID int64, now time.Time) (domain.TokenStatus, error) {
	if token == "" {
		return domain.TokenInvalid, nil
	}
	result, err := a.redisClient.RunScript(ctx, consumeTokenScriptName,
		[]string{tokenKey(userID, goodsID)}, token, now.UnixMilli())
	if err != nil {
		return 0, errors.Wrapf(err, "consume path token for user %d goods %d", userID, goodsID)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, errors.Errorf("unexpected result type from token script: %T", result)
	}
	switch code {
	case 1:
		return domain.TokenValid, nil
	case 0:
		return domain.TokenInvalid, nil
	case -1:
		return domain.TokenExpired, nil
	default:
		return 0, errors.Errorf("unknown result code from token script: %d", code)
	}
}

var consumeTokenScript = `
-- KEYS[1]: seckill:path:{userId}:goodsId
-- ARGV[1]: 客户端提交的令牌
-- ARGV[2]: 当前时间(毫秒)

local v = redis.call('hmget', KEYS[1], 'token', 'exp')
if not v[1] or v[1] ~= ARGV[1] then
    return 0
end

-- 令牌匹配即删除，无论是否过期都不能再用
redis.call('del', KEYS[1])
if tonumber(v[2]) <= tonumber(ARGV[2]) then
    return -1
end
return 1
`
