// cmd/seckill-service/main.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"seckill/internal/pkg/bootstrap"
	"seckill/internal/pkg/httpclient"
	"seckill/internal/pkg/metrics"
	"seckill/internal/pkg/mq"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/application"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
	"seckill/internal/service/seckill/infrastructure"
	"seckill/internal/service/seckill/infrastructure/adapter"
	"seckill/internal/service/seckill/infrastructure/rule"
	"seckill/internal/service/seckill/interfaces"
	"seckill/internal/zookeeper"
)

const serviceName = "seckill-service"

func main() {
	cfg, err := bootstrap.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var service *application.SeckillService
	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx *bootstrap.AppCtx) error {
			s, err := buildService(appCtx)
			if err != nil {
				return err
			}
			service = s
			return nil
		},
		OnStart: func(ctx context.Context) error {
			if !cfg.App.Seckill.ActivateOnStart {
				return nil
			}
			if _, err := service.Activate(ctx, false); err != nil {
				return errors.Wrap(err, "activate seckill window on start")
			}
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("seckill service exited")
	}
}

// buildService 组装所有依赖并注册路由
func buildService(appCtx *bootstrap.AppCtx) (*application.SeckillService, error) {
	cfg := appCtx.Config
	sc := cfg.App.Seckill
	tracer := otel.Tracer(serviceName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 1. 账本、令牌、限流
	var (
		ledger  port.StockLedger
		tokens  port.TokenStore
		limiter port.RateLimiter
	)
	switch sc.StoreBackend {
	case "redis":
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return nil, err
		}
		appCtx.OnShutdown(func(context.Context) error { return redisClient.Close() })

		if ledger, err = adapter.NewLedgerRedisAdapter(redisClient); err != nil {
			return nil, err
		}
		if tokens, err = adapter.NewTokenRedisAdapter(redisClient); err != nil {
			return nil, err
		}
		if limiter, err = adapter.NewRateLimitRedisAdapter(redisClient); err != nil {
			return nil, err
		}
	default:
		log.Warn().Msg("⚠️ using in-memory ledger, only safe for a single instance")
		ledger = adapter.NewLedgerMemoryAdapter()
		tokens = adapter.NewTokenMemoryAdapter()
		limiter = adapter.NewRateLimitMemoryAdapter()
	}

	// 2. 意图投递
	var publisher port.IntentPublisher
	switch sc.HandoffProvider {
	case "nats":
		nc, err := adapter.ConnectNats(cfg.Infra.Nats.URL)
		if err != nil {
			return nil, err
		}
		appCtx.OnShutdown(func(context.Context) error { return nc.Drain() })
		publisher = adapter.NewHandoffNatsAdapter(nc, cfg.Infra.Nats.Subject)
	default:
		kafkaAdapter := adapter.NewHandoffKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.Topic))
		appCtx.OnShutdown(func(context.Context) error { return kafkaAdapter.Close() })
		publisher = kafkaAdapter
	}

	// 3. 商品目录和订单查询
	db, err := infrastructure.OpenDB(cfg.Infra.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	appCtx.OnShutdown(func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.Infra.Database.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			return nil, errors.Wrap(err, "migrate seckill tables")
		}
	}
	eligibility, err := rule.NewCELEligibilityRule(sc.EligibilityRule)
	if err != nil {
		return nil, err
	}
	catalog := infrastructure.NewGormCatalogRepository(db, eligibility, nil)
	orders := infrastructure.NewGormOrderRepository(db)

	// 4. 鉴权服务：优先使用固定地址，否则通过 Nacos 发现
	resolver := adapter.StaticResolver(cfg.Infra.Auth.BaseURL)
	if cfg.Infra.Auth.BaseURL == "" {
		if appCtx.Nacos == nil {
			return nil, errors.New("auth service address is not configured and nacos is disabled")
		}
		resolver = adapter.DiscoveryResolver(appCtx.Nacos, cfg.Infra.Auth.ServiceName)
	}
	auth := adapter.NewAuthHTTPAdapter(httpclient.NewClient(tracer), resolver, cfg.Infra.Auth.Timeout)

	// 5. 窗口激活锁
	var locker port.ActivationLocker = zookeeper.NoopLocker{}
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		appCtx.OnShutdown(func(context.Context) error { conn.Close(); return nil })
		locker = zookeeper.NewWindowLocker(conn, cfg.Infra.Zookeeper.LockPath)
	}

	// 6. 业务组件
	window := domain.NewSaleWindow()
	gate := domain.NewSoldOutGate()
	issuer := application.NewTokenIssuer(application.IssuerConfig{
		RateLimit:       sc.RateLimit,
		RateLimitWindow: sc.RateLimitWindow,
		TokenTTL:        sc.TokenTTL,
	}, window, tokens, limiter, m, tracer, time.Now)
	admission := application.NewAdmissionController(issuer, window, gate, ledger, publisher, sc.PublishTimeout, m, tracer, time.Now)

	service := application.NewSeckillService(application.Deps{
		Catalog:   catalog,
		Orders:    orders,
		Auth:      auth,
		Ledger:    ledger,
		Locker:    locker,
		Window:    window,
		Gate:      gate,
		Issuer:    issuer,
		Admission: admission,
		Tracer:    tracer,
	})

	interfaces.NewSeckillHandler(service, sc.AdminToken).RegisterRoutes(appCtx.Mux)
	appCtx.Mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Info().
		Str("store", sc.StoreBackend).
		Str("handoff", sc.HandoffProvider).
		Str("rule", eligibility.String()).
		Bool("activate_route", sc.AdminToken != "").
		Msg("✅ seckill service assembled")
	return service, nil
}
