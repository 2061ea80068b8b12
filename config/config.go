package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Proxy    ProxyConfig
	Cabinet  CabinetConfig
	Scanner  ScannerConfig
	Pricing  PricingConfig
	Tasks    TasksConfig
	GreenAPI GreenAPIConfig
}

type ServerConfig struct {
	AppEnv string
	Port   string
	// Role 当前节点角色，例如 "worker" / "edge"
	Role string
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// RedisConfig Addr 为空时退化为进程内缓存
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ProxyConfig struct {
	// Vendor: static / asocks / gateway
	Vendor string
	// DisabledRoles 这些角色的节点直连，不走代理
	DisabledRoles    []string
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	ProbeSKUs        []string
	BalanceWarn      float64

	AsocksBaseURL      string
	AsocksAPIKey       string
	AsocksRefreshDelay time.Duration

	GatewayHost     string
	GatewayUser     string
	GatewayPassword string
	GatewayPortFrom int
	GatewayPortTo   int
	GatewayProtocol string
}

type CabinetConfig struct {
	LoginURL     string
	BffURL       string
	PriceFeedURL string
	SessionTTL   time.Duration
	PageSize     int
	Timeout      time.Duration
}

type ScannerConfig struct {
	OffersURL         string
	CityID            string
	RequestsPerProxy  int
	ChunkCooldown     time.Duration
	Timeout           time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	ThrottleEvery     int
	ThrottlePause     time.Duration
	SaveChunkSize     int
	ChangeCacheTTL    time.Duration
	MaxChangesDefault int
	RateLimit         float64
}

type PricingConfig struct {
	WarmSkipN int
	ColdSkipN int
}

type TasksConfig struct {
	ReconcileEnabled     bool
	ReconcileSpec        string
	ReconcileChunkSize   int
	ReconcileConcurrency int

	CatalogEnabled bool
	CatalogSpec    string

	SubscriptionEnabled bool
	SubscriptionSpec    string

	ProxyMonitorEnabled bool
	ProxyMonitorSpec    string

	LockTTL        time.Duration
	LockHoldOff    time.Duration
	TriggerTimeout time.Duration
}

type GreenAPIConfig struct {
	BaseURL      string
	InstanceID   string
	Token        string
	ManagerPhone string
	// TeamGroupID 运营群，每次事件都会收到
	TeamGroupID string
}

// LoadEnv 从环境变量加载配置
func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv: getEnv("APP_ENV", "dev"),
			Port:   getEnv("SERVER_PORT", "8080"),
			Role:   getEnv("APP_ROLE", "worker"),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			DSN:             getEnv("DB_DSN", "host=localhost user=kaspi password=kaspi dbname=kaspi_dumping port=5432 sslmode=disable TimeZone=Asia/Almaty"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			LogLevel:        getEnv("DB_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Proxy: ProxyConfig{
			Vendor:             getEnv("PROXY_VENDOR", "static"),
			DisabledRoles:      getEnvSlice("PROXY_DISABLED_ON_ROLE", []string{"edge"}),
			ProbeTimeout:       getEnvDuration("PROXY_PROBE_TIMEOUT", 30*time.Second),
			ProbeConcurrency:   getEnvInt("PROXY_PROBE_CONCURRENCY", 50),
			ProbeSKUs:          getEnvSlice("PROXY_PROBE_SKUS", []string{"1005119", "106363345", "106363335", "106363312", "106363327", "102298145", "106363270"}),
			BalanceWarn:        getEnvFloat("PROXY_BALANCE_WARN", 10),
			AsocksBaseURL:      getEnv("ASOCKS_BASE_URL", "https://api.asocks.com"),
			AsocksAPIKey:       getEnv("ASOCKS_API_KEY", ""),
			AsocksRefreshDelay: getEnvDuration("ASOCKS_REFRESH_DELAY", 5*time.Second),
			GatewayHost:        getEnv("PROXY_GATEWAY_HOST", ""),
			GatewayUser:        getEnv("PROXY_GATEWAY_USER", ""),
			GatewayPassword:    getEnv("PROXY_GATEWAY_PASSWORD", ""),
			GatewayPortFrom:    getEnvInt("PROXY_GATEWAY_PORT_FROM", 10000),
			GatewayPortTo:      getEnvInt("PROXY_GATEWAY_PORT_TO", 10009),
			GatewayProtocol:    getEnv("PROXY_GATEWAY_PROTOCOL", "http"),
		},
		Cabinet: CabinetConfig{
			LoginURL:     getEnv("CABINET_LOGIN_URL", "https://kaspi.kz/mc/api/login"),
			BffURL:       getEnv("CABINET_BFF_URL", "https://mc.shop.kaspi.kz/bff/offer-view"),
			PriceFeedURL: getEnv("CABINET_PRICEFEED_URL", "https://mc.shop.kaspi.kz/pricefeed/upload/merchant/process"),
			SessionTTL:   getEnvDuration("CABINET_SESSION_TTL", 15*time.Minute),
			PageSize:     getEnvInt("CABINET_PAGE_SIZE", 100),
			Timeout:      getEnvDuration("CABINET_TIMEOUT", 30*time.Second),
		},
		Scanner: ScannerConfig{
			OffersURL:         getEnv("SCANNER_OFFERS_URL", "https://kaspi.kz/yml/offer-view/offers"),
			CityID:            getEnv("SCANNER_CITY_ID", "750000000"),
			RequestsPerProxy:  getEnvInt("SCANNER_REQUESTS_PER_PROXY", 4),
			ChunkCooldown:     getEnvDuration("SCANNER_CHUNK_COOLDOWN", 500*time.Millisecond),
			Timeout:           getEnvDuration("SCANNER_TIMEOUT", 8*time.Second),
			RetryAttempts:     getEnvInt("REQUESTS_RETRY_ATTEMPTS", 3),
			RetryBackoff:      getEnvDuration("REQUESTS_RETRY_BACKOFF", 2*time.Second),
			ThrottleEvery:     getEnvInt("BATCH_THROTTLE_EVERY", 1000),
			ThrottlePause:     getEnvDuration("BATCH_THROTTLE_PAUSE", 10*time.Second),
			SaveChunkSize:     getEnvInt("CATALOG_SAVE_CHUNK", 200),
			ChangeCacheTTL:    getEnvDuration("PRICE_CHANGE_CACHE_TTL", 10*time.Minute),
			MaxChangesDefault: getEnvInt("MAX_PRICE_CHANGES_PER_BATCH", 250),
			RateLimit:         getEnvFloat("SCANNER_RATE_LIMIT", 0),
		},
		Pricing: PricingConfig{
			WarmSkipN: getEnvInt("NUM_CHECKS_TO_SKIP_FOR_WARM_PRODUCT", 2),
			ColdSkipN: getEnvInt("NUM_CHECKS_TO_SKIP_FOR_COLD_PRODUCT", 4),
		},
		Tasks: TasksConfig{
			ReconcileEnabled:     getEnvBool("TASK_RECONCILE_ENABLED", true),
			ReconcileSpec:        getEnv("TASK_RECONCILE_SPEC", "0 */10 * * * *"),
			ReconcileChunkSize:   getEnvInt("TASK_RECONCILE_CHUNK", 50),
			ReconcileConcurrency: getEnvInt("TASK_RECONCILE_CONCURRENCY", 4),
			CatalogEnabled:       getEnvBool("TASK_CATALOG_ENABLED", true),
			CatalogSpec:          getEnv("TASK_CATALOG_SPEC", "0 0 */2 * * *"),
			SubscriptionEnabled:  getEnvBool("TASK_SUBSCRIPTION_ENABLED", true),
			SubscriptionSpec:     getEnv("TASK_SUBSCRIPTION_SPEC", "0 0 1 * * *"),
			ProxyMonitorEnabled:  getEnvBool("TASK_PROXY_MONITOR_ENABLED", true),
			ProxyMonitorSpec:     getEnv("TASK_PROXY_MONITOR_SPEC", "0 0/15 * * * *"),
			LockTTL:              getEnvDuration("TASK_LOCK_TTL", 2*time.Hour),
			LockHoldOff:          getEnvDuration("TASK_LOCK_HOLD_OFF", 5*time.Second),
			TriggerTimeout:       getEnvDuration("TASK_TRIGGER_TIMEOUT", 30*time.Minute),
		},
		GreenAPI: GreenAPIConfig{
			BaseURL:      getEnv("GREEN_API_URL", "https://api.green-api.com"),
			InstanceID:   getEnv("GREEN_API_INSTANCE_ID", ""),
			Token:        getEnv("GREEN_API_TOKEN", ""),
			ManagerPhone: getEnv("MANAGER_PHONE", ""),
			TeamGroupID:  getEnv("GREEN_API_TEAM_GROUP_ID", ""),
		},
	}
}

// ProxyDisabledFor 当前角色是否禁用代理
func (c *Config) ProxyDisabledFor(role string) bool {
	for _, r := range c.Proxy.DisabledRoles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration 支持 "15m" 形式，也兼容纯数字秒
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if s, err := strconv.Atoi(value); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		if value == "" {
			return nil
		}
		return strings.Split(value, ",")
	}
	return fallback
}
