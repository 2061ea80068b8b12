package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kaspi_dumping_v1/config"
	"kaspi_dumping_v1/internal/controller"
	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/pricing"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/internal/router"
	"kaspi_dumping_v1/internal/service"
	"kaspi_dumping_v1/internal/task"
	"kaspi_dumping_v1/pkg/cache"
	"kaspi_dumping_v1/pkg/database"
	"kaspi_dumping_v1/pkg/logger"
	"kaspi_dumping_v1/pkg/net"
)

func main() {
	// 0. 配置与日志
	_ = godotenv.Load()
	cfg := config.LoadEnv()
	log := logger.NewZapLogger(&logger.ZapLoggerConfig{
		IsDevelopment:     cfg.Server.AppEnv == "dev",
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	})
	defer func() { _ = log.Sync() }()

	// 1. 初始化数据库
	db := initDatabase(cfg, log)

	// 2. 初始化缓存
	caches := initCaches(cfg, log)
	defer caches.Close()

	// 3. 初始化依赖
	deps := initDependencies(cfg, db, caches, log)

	// 4. 启动定时任务
	taskManager := initTasks(cfg, deps, caches, log)

	// 5. 初始化路由
	if cfg.Server.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.InitRoutes(r, controller.NewOpsController(taskManager))

	// 6. 启动服务
	startServer(cfg, r, taskManager, log)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB         *gorm.DB
	Repos      *Repositories
	Dispatcher net.Dispatcher
	Services   *Services
}

// Repositories 仓库集合
type Repositories struct {
	Merchant     repository.MerchantRepository
	Product      repository.ProductRepository
	ProductPrice repository.ProductPriceRepository
	Proxy        repository.ProxyRepository
	Notification repository.NotificationRepository
}

// Services 服务集合
type Services struct {
	Proxy        *service.ProxyService
	Cabinet      *service.CabinetClient
	Scanner      *service.ScannerService
	Writer       *service.PriceWriter
	Catalog      *service.CatalogService
	Notification *service.NotificationService
	Reconcile    *service.ReconcileService
	Subscription *service.SubscriptionService
}

// Caches 会话缓存、改价缓存与任务锁
type Caches struct {
	Sessions cache.Store
	Changes  cache.Store
	Locker   cache.Locker
	rdb      *redis.Client
}

// Close 关闭 Redis 连接
func (c *Caches) Close() {
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase(cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := database.InitDB(database.Options{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		LogLevel:        cfg.Postgres.LogLevel,
	}, log, model.AllModels()...)
	if err != nil {
		log.Fatal("数据库初始化失败", zap.Error(err))
	}
	return db
}

// initCaches REDIS_ADDR 为空时使用进程内实现（单节点模式）
func initCaches(cfg *config.Config, log *zap.Logger) *Caches {
	if cfg.Redis.Addr == "" {
		log.Warn("未配置 Redis，使用进程内缓存和锁，仅适用于单节点部署")
		return &Caches{
			Sessions: cache.NewMemoryStore(),
			Changes:  cache.NewMemoryStore(),
			Locker:   cache.NewMemoryLocker(),
		}
	}

	rdb, err := cache.NewRedisClient(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("Redis 初始化失败", zap.Error(err))
	}
	log.Info("Redis 连接成功", zap.String("addr", cfg.Redis.Addr))

	return &Caches{
		Sessions: cache.NewRedisStore(rdb, "kaspi:session:"),
		Changes:  cache.NewRedisStore(rdb, "kaspi:"),
		Locker:   cache.NewRedisLocker(rdb, "kaspi:lock:"),
		rdb:      rdb,
	}
}

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB, caches *Caches, log *zap.Logger) *Dependencies {
	// -------- Repo 层 --------
	repos := initRepositories(db)

	// -------- 网络层 --------
	dispatcher := net.NewDispatcher(net.ClientOptions{
		Timeout: cfg.Cabinet.Timeout,
		Debug:   cfg.Server.AppEnv == "dev" && cfg.Logger.Level == "debug",
	})

	// -------- 代理池 --------
	vendor, err := service.NewProxyVendor(cfg.Proxy, repos.Proxy, dispatcher.Client(nil), log)
	if err != nil {
		log.Fatal("代理商配置错误", zap.Error(err))
	}
	probeURL := cfg.Scanner.OffersURL
	if len(cfg.Proxy.ProbeSKUs) > 0 {
		probeURL += "/" + cfg.Proxy.ProbeSKUs[0]
	}
	proxySvc := service.NewProxyService(vendor, repos.Proxy, dispatcher, service.ProxyOptions{
		Disabled:         cfg.ProxyDisabledFor(cfg.Server.Role),
		ProbeURL:         probeURL,
		ProbeCityID:      cfg.Scanner.CityID,
		ProbeSKUs:        cfg.Proxy.ProbeSKUs,
		ProbeTimeout:     cfg.Proxy.ProbeTimeout,
		ProbeConcurrency: cfg.Proxy.ProbeConcurrency,
		BalanceWarn:      cfg.Proxy.BalanceWarn,
	}, log)

	// -------- 平台访问 --------
	cabinet := service.NewCabinetClient(dispatcher, service.NewSessionCache(caches.Sessions, cfg.Cabinet.SessionTTL, log), service.CabinetOptions{
		LoginURL:     cfg.Cabinet.LoginURL,
		BffURL:       cfg.Cabinet.BffURL,
		PriceFeedURL: cfg.Cabinet.PriceFeedURL,
		PageSize:     cfg.Cabinet.PageSize,
	}, log)
	retry := net.TransientPolicy(cfg.Scanner.RetryAttempts, cfg.Scanner.RetryBackoff)
	scanner := service.NewScannerService(dispatcher, service.ScannerOptions{
		OffersURL:        cfg.Scanner.OffersURL,
		RequestsPerProxy: cfg.Scanner.RequestsPerProxy,
		ChunkCooldown:    cfg.Scanner.ChunkCooldown,
		Timeout:          cfg.Scanner.Timeout,
		Retry:            retry,
		RateLimit:        cfg.Scanner.RateLimit,
	}, log)

	// -------- 业务服务 --------
	writer := service.NewPriceWriter(cabinet, repos.Product, repos.ProductPrice, caches.Changes,
		net.AnyErrorPolicy(cfg.Scanner.RetryAttempts, cfg.Scanner.RetryBackoff), cfg.Scanner.ChangeCacheTTL, log)
	notifier := service.NewGreenAPINotifier(dispatcher.Client(nil), service.GreenAPIOptions{
		BaseURL:      cfg.GreenAPI.BaseURL,
		InstanceID:   cfg.GreenAPI.InstanceID,
		Token:        cfg.GreenAPI.Token,
		ManagerPhone: cfg.GreenAPI.ManagerPhone,
		TeamGroupID:  cfg.GreenAPI.TeamGroupID,
	}, log)
	notifications := service.NewNotificationService(repos.Notification, repos.Merchant, notifier, cfg.GreenAPI.ManagerPhone, log)

	services := &Services{
		Proxy:        proxySvc,
		Cabinet:      cabinet,
		Scanner:      scanner,
		Writer:       writer,
		Notification: notifications,
		Subscription: service.NewSubscriptionService(repos.Merchant, log),
	}
	services.Catalog = service.NewCatalogService(cabinet, scanner, repos.Product, notifications, service.CatalogOptions{
		Retry:         retry,
		SaveChunkSize: cfg.Scanner.SaveChunkSize,
	}, log)
	services.Reconcile = service.NewReconcileService(proxySvc, cabinet, scanner, writer, notifications, repos.Product, service.ReconcileOptions{
		BatchLimit:    cfg.Tasks.ReconcileChunkSize,
		WriteCooldown: cfg.Scanner.ChunkCooldown,
		MaxChanges:    cfg.Scanner.MaxChangesDefault,
		Skip:          pricing.SkipConfig{WarmSkipN: cfg.Pricing.WarmSkipN, ColdSkipN: cfg.Pricing.ColdSkipN},
	}, log)

	return &Dependencies{
		DB:         db,
		Repos:      repos,
		Dispatcher: dispatcher,
		Services:   services,
	}
}

// initRepositories 初始化所有仓库
func initRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Merchant:     repository.NewMerchantRepository(db),
		Product:      repository.NewProductRepository(db),
		ProductPrice: repository.NewProductPriceRepository(db),
		Proxy:        repository.NewProxyRepository(db),
		Notification: repository.NewNotificationRepository(db),
	}
}

// ==================== 定时任务 ====================

// initTasks 初始化并启动定时任务
func initTasks(cfg *config.Config, deps *Dependencies, caches *Caches, log *zap.Logger) *task.TaskManager {
	tm := task.NewTaskManager(&task.TaskManagerDeps{
		MerchantRepo:  deps.Repos.Merchant,
		ProductRepo:   deps.Repos.Product,
		Pools:         deps.Services.Proxy,
		Reconciler:    deps.Services.Reconcile,
		Catalog:       deps.Services.Catalog,
		Subscriptions: deps.Services.Subscription,
		Proxies:       deps.Services.Proxy,
		Locker:        caches.Locker,
		Logger:        log,
	}, task.ConfigFrom(cfg))

	if err := tm.Start(); err != nil {
		log.Fatal("定时任务启动失败", zap.Error(err))
	}
	return tm
}

// ==================== 服务启动 ====================

// startServer 启动服务并等待退出信号
func startServer(cfg *config.Config, r *gin.Engine, tm *task.TaskManager, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Info("服务启动", zap.String("port", cfg.Server.Port), zap.String("role", cfg.Server.Role))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("服务强制关闭", zap.Error(err))
	}
	tm.Stop()

	log.Info("服务已退出")
}
