// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是秒杀服务的完整配置，分为业务(App)和基础设施(Infra)两部分。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	ServiceName string        `yaml:"serviceName"`
	Port        int           `yaml:"port"`
	LogLevel    string        `yaml:"logLevel"`
	Seckill     SeckillConfig `yaml:"seckill"`
}

// SeckillConfig 是准入链路的可调参数。
type SeckillConfig struct {
	// 每个用户在滑动窗口内最多可以申请的路径令牌数
	RateLimit       int           `yaml:"rateLimit"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
	TokenTTL        time.Duration `yaml:"tokenTTL"`
	PublishTimeout  time.Duration `yaml:"publishTimeout"`
	// CEL 表达式，变量: goods_id, sku_id, stock, sale_start, sale_end, now
	EligibilityRule string `yaml:"eligibilityRule"`
	// redis | memory，memory 只适合单实例调试
	StoreBackend string `yaml:"storeBackend"`
	// kafka | nats
	HandoffProvider string `yaml:"handoffProvider"`
	// 启动时是否自动激活窗口
	ActivateOnStart bool `yaml:"activateOnStart"`
	// 窗口激活接口的口令，为空时不注册该接口
	AdminToken string `yaml:"adminToken"`
}

type InfraConfig struct {
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Nats      NatsConfig      `yaml:"nats"`
	Database  DatabaseConfig  `yaml:"database"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Auth      AuthConfig      `yaml:"auth"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DatabaseConfig 描述商品目录和订单表所在的数据库。
// DSN 非空时直接使用，否则 mysql 方言由各字段拼出 DSN。
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql | postgres
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// 启动时创建 seckill_goods / seckill_order 表，生产环境由 DBA 管理表结构时关闭
	AutoMigrate bool `yaml:"autoMigrate"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockPath       string        `yaml:"lockPath"`
}

// AuthConfig 指向鉴权服务。BaseURL 为空且开启了 Nacos 时，通过 ServiceName 发现。
type AuthConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	ServiceName string        `yaml:"serviceName"`
	Timeout     time.Duration `yaml:"timeout"`
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，未加载时返回默认配置。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return Default()
}

// Default 返回带默认值的配置。
func Default() *Config {
	return &Config{
		App: AppConfig{
			ServiceName: "seckill-service",
			Port:        8090,
			LogLevel:    "info",
			Seckill: SeckillConfig{
				RateLimit:       5,
				RateLimitWindow: 20 * time.Second,
				TokenTTL:        60 * time.Second,
				PublishTimeout:  2 * time.Second,
				EligibilityRule: "stock > 0 && now < sale_end",
				StoreBackend:    "redis",
				HandoffProvider: "kafka",
				ActivateOnStart: true,
			},
		},
		Infra: InfraConfig{
			Redis: RedisConfig{Addrs: "localhost:6379"},
			Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "seckill-intents"},
			Nats:  NatsConfig{URL: "nats://localhost:4222", Subject: "seckill.intents"},
			Database: DatabaseConfig{
				Driver:      "mysql",
				Host:        "localhost",
				Port:        3306,
				User:        "root",
				Name:        "seckill",
				AutoMigrate: true,
			},
			Jaeger:    JaegerConfig{SampleRatio: 1},
			Nacos:     NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 5 * time.Second, LockPath: "seckill-window"},
			Auth:      AuthConfig{ServiceName: "auth-service", Timeout: 500 * time.Millisecond},
		},
	}
}

// Load 依次读取 .env、YAML 文件和环境变量覆盖项，校验后设为当前配置。
// path 为空时使用 CONFIG_FILE，再为空时使用 configs/seckill.yaml；文件不存在时只用默认值。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getEnv("CONFIG_FILE", "configs/seckill.yaml")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.Port = getEnvInt("PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.Seckill.StoreBackend = getEnv("SECKILL_STORE_BACKEND", cfg.App.Seckill.StoreBackend)
	cfg.App.Seckill.HandoffProvider = getEnv("SECKILL_HANDOFF_PROVIDER", cfg.App.Seckill.HandoffProvider)
	cfg.App.Seckill.AdminToken = getEnv("SECKILL_ADMIN_TOKEN", cfg.App.Seckill.AdminToken)

	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	cfg.Infra.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Infra.Kafka.Topic)
	cfg.Infra.Nats.URL = getEnv("NATS_URL", cfg.Infra.Nats.URL)
	cfg.Infra.Database.DSN = getEnv("MYSQL_DSN", cfg.Infra.Database.DSN)
	cfg.Infra.Database.Password = getEnv("DB_PASSWORD", cfg.Infra.Database.Password)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.Addrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = splitList(v)
	}
	cfg.Infra.Auth.BaseURL = getEnv("AUTH_BASE_URL", cfg.Infra.Auth.BaseURL)
}

// Validate 检查配置的合法性。
func (c *Config) Validate() error {
	s := c.App.Seckill
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.App.Port)
	}
	if s.RateLimit <= 0 || s.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d per %s", s.RateLimit, s.RateLimitWindow)
	}
	if s.TokenTTL <= 0 {
		return fmt.Errorf("tokenTTL must be positive, got %s", s.TokenTTL)
	}
	if s.PublishTimeout <= 0 {
		return fmt.Errorf("publishTimeout must be positive, got %s", s.PublishTimeout)
	}
	if s.StoreBackend != "redis" && s.StoreBackend != "memory" {
		return fmt.Errorf("invalid store backend %q, must be 'redis' or 'memory'", s.StoreBackend)
	}
	switch s.HandoffProvider {
	case "kafka":
		if len(c.Infra.Kafka.Brokers) == 0 || c.Infra.Kafka.Topic == "" {
			return fmt.Errorf("kafka hand-off requires brokers and topic")
		}
	case "nats":
		if c.Infra.Nats.URL == "" || c.Infra.Nats.Subject == "" {
			return fmt.Errorf("nats hand-off requires url and subject")
		}
	default:
		return fmt.Errorf("invalid hand-off provider %q, must be 'kafka' or 'nats'", s.HandoffProvider)
	}
	if s.StoreBackend == "redis" && strings.TrimSpace(c.Infra.Redis.Addrs) == "" {
		return fmt.Errorf("redis store backend requires infra.redis.addrs")
	}
	if d := c.Infra.Database.Driver; d != "mysql" && d != "postgres" {
		return fmt.Errorf("invalid database driver %q, must be 'mysql' or 'postgres'", d)
	}
	if c.Infra.Database.Driver == "postgres" && c.Infra.Database.DSN == "" {
		return fmt.Errorf("postgres driver requires infra.database.dsn")
	}
	if c.Infra.Jaeger.SampleRatio < 0 || c.Infra.Jaeger.SampleRatio > 1 {
		return fmt.Errorf("jaeger sampleRatio must be within [0,1], got %v", c.Infra.Jaeger.SampleRatio)
	}
	if c.Infra.Auth.BaseURL == "" && !c.Infra.Nacos.Enabled {
		return fmt.Errorf("auth service needs either infra.auth.baseURL or nacos discovery")
	}
	return nil
}

// DatabaseDSN 返回数据库连接串。mysql 方言下用驱动自带的 Config 拼接，避免手写转义。
func (c *Config) DatabaseDSN() string {
	db := c.Infra.Database
	if db.DSN != "" {
		return db.DSN
	}
	mc := mysql.NewConfig()
	mc.User = db.User
	mc.Passwd = db.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", db.Host, db.Port)
	mc.DBName = db.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
