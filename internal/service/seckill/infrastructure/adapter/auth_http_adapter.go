package adapter

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"seckill/internal/pkg/httpclient"
	"seckill/internal/service/seckill/domain"
)

const verifyPath = "/verify"

// ServiceResolver 返回下游服务的 base URL，例如 http://10.0.0.3:8080。
type ServiceResolver func(ctx context.Context) (string, error)

// StaticResolver 总是返回同一个地址。
func StaticResolver(baseURL string) ServiceResolver {
	return func(context.Context) (string, error) { return baseURL, nil }
}

// ServiceDiscoverer 是 nacos.Client 的子集。
type ServiceDiscoverer interface {
	DiscoverServiceURL(serviceName string) (string, error)
}

// DiscoveryResolver 每次调用都从注册中心挑一个健康实例。
func DiscoveryResolver(d ServiceDiscoverer, serviceName string) ServiceResolver {
	return func(context.Context) (string, error) { return d.DiscoverServiceURL(serviceName) }
}

// AuthHTTPAdapter 是 port.Authenticator 的 HTTP 实现，凭证原样放在 Authorization 头里转发。
// timeout 大于 0 时限制单次校验的耗时。
type AuthHTTPAdapter struct {
	client  *httpclient.Client
	resolve ServiceResolver
	timeout time.Duration
}

func NewAuthHTTPAdapter(client *httpclient.Client, resolve ServiceResolver, timeout time.Duration) *AuthHTTPAdapter {
	return &AuthHTTPAdapter{client: client, resolve: resolve, timeout: timeout}
}

func (a *AuthHTTPAdapter) CurrentUser(ctx context.Context, credential string) (*domain.UserInfo, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, domain.ErrUnauthorized
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	baseURL, err := a.resolve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve auth service")
	}

	header := http.Header{}
	header.Set("Authorization", credential)

	var user domain.UserInfo
	err = a.client.GetJSON(ctx, strings.TrimRight(baseURL, "/")+verifyPath, header, &user)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return nil, domain.ErrUnauthorized
		}
		return nil, errors.Wrap(err, "verify credential with auth service")
	}
	if user.ID <= 0 {
		return nil, domain.ErrUnauthorized
	}
	return &user, nil
}
