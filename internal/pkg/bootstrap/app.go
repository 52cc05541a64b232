// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/nacos"
	"seckill/internal/pkg/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未开启 Nacos 时为 nil
	Config *Config

	cleanups []func(ctx context.Context) error
}

// OnShutdown 注册一个关停时执行的清理函数，按注册的相反顺序执行。
func (a *AppCtx) OnShutdown(fn func(ctx context.Context) error) {
	a.cleanups = append(a.cleanups, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	// 注册 HTTP 路由并组装依赖，返回错误时服务不会启动
	RegisterHandlers func(appCtx *AppCtx) error
	// HTTP 服务开始监听后执行一次，例如激活秒杀窗口；返回错误会让整个服务退出
	OnStart func(ctx context.Context) error
}

// StartService 封装了通用的启动和优雅关停逻辑，收到 SIGINT/SIGTERM 后返回。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, info)
}

// Run 在 ctx 结束前一直提供服务。
func Run(ctx context.Context, info AppInfo) error {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	appCtx := &AppCtx{Mux: http.NewServeMux(), Config: cfg}
	appCtx.OnShutdown(tp.Shutdown)

	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return fmt.Errorf("failed to initialize nacos client: %w", err)
		}
		appCtx.Nacos = namingClient
	}

	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			runCleanups(appCtx)
			return fmt.Errorf("failed to register handlers: %w", err)
		}
	}

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(info.Port))
	if err != nil {
		runCleanups(appCtx)
		return fmt.Errorf("could not listen on :%d: %w", info.Port, err)
	}
	server := &http.Server{Handler: appCtx.Mux, ReadHeaderTimeout: 5 * time.Second}

	if namingClient != nil {
		ip, err = getOutboundIP()
		if err != nil {
			_ = lis.Close()
			runCleanups(appCtx)
			return fmt.Errorf("failed to get outbound IP address: %w", err)
		}
		port := lis.Addr().(*net.TCPAddr).Port
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, port); err != nil {
			_ = lis.Close()
			runCleanups(appCtx)
			return err
		}
		appCtx.OnShutdown(func(context.Context) error {
			return namingClient.DeregisterServiceInstance(info.ServiceName, ip, port)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msgf("🚀 %s listening", info.ServiceName)
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if info.OnStart != nil {
		g.Go(func() error {
			return info.OnStart(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("🛑 Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		}
		runCleanups(appCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msgf("👋 Service %s gracefully shut down.", info.ServiceName)
	return nil
}

func runCleanups(appCtx *AppCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(appCtx.cleanups) - 1; i >= 0; i-- {
		if err := appCtx.cleanups[i](ctx); err != nil {
			log.Error().Err(err).Msg("cleanup failed during shutdown")
		}
	}
	appCtx.cleanups = nil
}

// getOutboundIP 通过一次 UDP "连接" 拿到本机对外的出口 IP，不会真正发包。
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
