package adapter

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"seckill/internal/service/seckill/domain"
)

// NatsConn 是 *nats.Conn 的子集。
type NatsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// HandoffNatsAdapter 是另一种意图投递通道。
// 发布后立即 Flush，只有服务端确认收到才算投递成功，超时由 ctx 控制。
type HandoffNatsAdapter struct {
	conn    NatsConn
	subject string
}

func NewHandoffNatsAdapter(conn NatsConn, subject string) *HandoffNatsAdapter {
	return &HandoffNatsAdapter{conn: conn, subject: subject}
}

// ConnectNats 连接 NATS，断线后由客户端自动重连。
func ConnectNats(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("seckill-service"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", url)
	}
	return nc, nil
}

func (a *HandoffNatsAdapter) Publish(ctx context.Context, intent domain.PurchaseIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal purchase intent")
	}

	msg := nats.NewMsg(a.subject)
	msg.Data = body
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := a.conn.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish intent %s to nats", intent.IntentID)
	}
	if err := a.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrapf(err, "flush intent %s to nats", intent.IntentID)
	}
	return nil
}
