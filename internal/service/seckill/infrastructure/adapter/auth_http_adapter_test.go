package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"seckill/internal/pkg/httpclient"
	"seckill/internal/service/seckill/domain"
)

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != verifyPath {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "good-token":
			json.NewEncoder(w).Encode(domain.UserInfo{ID: 1001, Username: "alice"})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAuthAdapter(resolve ServiceResolver) *AuthHTTPAdapter {
	return NewAuthHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), resolve, time.Second)
}

func TestAuthHTTPAdapter_CurrentUser(t *testing.T) {
	srv := newAuthServer(t)
	a := newAuthAdapter(StaticResolver(srv.URL + "/"))

	user, err := a.CurrentUser(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), user.ID)
	assert.Equal(t, "alice", user.Username)

	_, err = a.CurrentUser(context.Background(), "stolen")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.CurrentUser(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.CurrentUser(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	var statusErr *httpclient.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

type fakeDiscoverer struct {
	url string
	err error
}

func (d fakeDiscoverer) DiscoverServiceURL(string) (string, error) {
	return d.url, d.err
}

func TestAuthHTTPAdapter_DiscoveryResolver(t *testing.T) {
	srv := newAuthServer(t)

	a := newAuthAdapter(DiscoveryResolver(fakeDiscoverer{url: srv.URL}, "auth-service"))
	user, err := a.CurrentUser(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), user.ID)

	a = newAuthAdapter(DiscoveryResolver(fakeDiscoverer{err: errors.New("no healthy instance")}, "auth-service"))
	_, err = a.CurrentUser(context.Background(), "good-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no healthy instance")
}
