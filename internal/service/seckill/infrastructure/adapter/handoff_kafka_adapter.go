package adapter

import (
	"context"
	"encoding/json"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"seckill/internal/pkg/mq"
	"seckill/internal/service/seckill/domain"
)

// HandoffKafkaAdapter 实现了 port.IntentPublisher，把准入意图写入 Kafka。
// 以 userId 作为消息 key，同一用户的意图落在同一分区内有序。
type HandoffKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewHandoffKafkaAdapter(writer mq.MessageWriter) *HandoffKafkaAdapter {
	return &HandoffKafkaAdapter{writer: writer}
}

func (a *HandoffKafkaAdapter) Publish(ctx context.Context, intent domain.PurchaseIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal purchase intent")
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	if err := mq.ProduceMessage(ctx, a.writer, []byte(strconv.FormatInt(intent.UserID, 10)), body); err != nil {
		return errors.Wrapf(err, "publish intent %s to kafka", intent.IntentID)
	}
	return nil
}

// Close 关闭底层的 Kafka writer。
func (a *HandoffKafkaAdapter) Close() error {
	if c, ok := a.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
