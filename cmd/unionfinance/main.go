// Package main 工会财务服务启动入口
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	duesapp "github.com/wyfcoding/unionfinance/internal/dues/application"
	duesdomain "github.com/wyfcoding/unionfinance/internal/dues/domain"
	duesinfra "github.com/wyfcoding/unionfinance/internal/dues/infrastructure"
	duespersistence "github.com/wyfcoding/unionfinance/internal/dues/infrastructure/persistence"
	duesmemory "github.com/wyfcoding/unionfinance/internal/dues/infrastructure/persistence/memory"
	dueshttp "github.com/wyfcoding/unionfinance/internal/dues/interfaces/http"
	remapp "github.com/wyfcoding/unionfinance/internal/remittance/application"
	remdomain "github.com/wyfcoding/unionfinance/internal/remittance/domain"
	reminfra "github.com/wyfcoding/unionfinance/internal/remittance/infrastructure"
	remconsumer "github.com/wyfcoding/unionfinance/internal/remittance/interfaces/consumer"
	remhttp "github.com/wyfcoding/unionfinance/internal/remittance/interfaces/http"
	fundapp "github.com/wyfcoding/unionfinance/internal/strikefund/application"
	funddomain "github.com/wyfcoding/unionfinance/internal/strikefund/domain"
	fundinfra "github.com/wyfcoding/unionfinance/internal/strikefund/infrastructure"
	fundpersistence "github.com/wyfcoding/unionfinance/internal/strikefund/infrastructure/persistence"
	fundmemory "github.com/wyfcoding/unionfinance/internal/strikefund/infrastructure/persistence/memory"
	fundhttp "github.com/wyfcoding/unionfinance/internal/strikefund/interfaces/http"
	"github.com/wyfcoding/unionfinance/pkg/cache"
	"github.com/wyfcoding/unionfinance/pkg/config"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/lock"
	"github.com/wyfcoding/unionfinance/pkg/logger"
	"github.com/wyfcoding/unionfinance/pkg/metrics"
	"github.com/wyfcoding/unionfinance/pkg/middleware"
	"github.com/wyfcoding/unionfinance/pkg/mq"
	"github.com/wyfcoding/unionfinance/pkg/ratelimit"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// stores 三个上下文的仓储
type stores struct {
	tx db.Transactor

	rules        duesdomain.RuleRepository
	assignments  duesdomain.AssignmentRepository
	transactions duesdomain.TransactionRepository

	remittances remdomain.RemittanceRepository

	funds  funddomain.FundRepository
	flows  funddomain.FlowRepository
	alerts funddomain.AlertStore
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.GetEnv("APP_CONFIG", "configs/config.toml"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, err := logger.Init(cfg.Logger)
	if err != nil {
		slog.Error("failed to init logger", "error", err)
		os.Exit(1)
	}
	log = log.With("service", cfg.ServiceName)

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 数据库
	var gdb *gorm.DB
	if cfg.Database.Driver != "memory" {
		var err error
		gdb, err = db.Init(ctx, db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer db.Close(gdb)
		if cfg.Database.AutoMigrate {
			if err := migrate(gdb); err != nil {
				return err
			}
		}
	}
	st := newStores(gdb)

	// Redis
	var rc *cache.RedisCache
	if cfg.Redis.Enabled {
		var err error
		rc, err = cache.New(ctx, cache.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rc.Close()
	}

	var (
		locker  lock.Locker
		limiter ratelimit.RateLimiter
	)
	lockTTL := time.Duration(cfg.Reconciliation.LockTTL) * time.Second
	if rc != nil {
		locker = lock.NewRedisLocker(rc, "unionfinance:lock:", lockTTL)
		limiter = ratelimit.NewRedisRateLimiter(rc.Client())
		st.alerts = fundinfra.NewRedisAlertStore(rc, st.alerts)
	} else {
		locker = lock.NewLocalLocker()
		limiter = ratelimit.NewMemoryRateLimiter()
	}

	// 消息
	kafkaCfg := mq.KafkaConfig{Brokers: cfg.Kafka.Brokers, GroupID: cfg.Kafka.GroupID}
	var publisher mq.Publisher
	if cfg.Kafka.Enabled {
		producer := mq.NewProducer(kafkaCfg)
		defer producer.Close()
		publisher = producer
	} else {
		publisher = mq.NewMemoryPublisher()
	}

	// 指标
	m := metrics.New("unionfinance")
	if cfg.Metrics.Enabled {
		if err := m.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	ids, err := utils.NewIDGenerator(1)
	if err != nil {
		return fmt.Errorf("failed to create id generator: %w", err)
	}

	// 会费
	book := duesinfra.NewRuleBook(st.rules, st.assignments, time.Duration(cfg.Dues.RuleCacheTTL)*time.Second)
	engine := duesapp.NewEngine(book, cfg.Dues.Workers, log, m)
	ruleSvc := duesapp.NewRuleService(st.rules, st.assignments, st.tx, ids, book, log)
	billingSvc := duesapp.NewBillingService(engine, st.assignments, st.transactions, st.tx, ids, log, m)

	// 对账
	tolerance, err := decimal.NewFromString(cfg.Reconciliation.Tolerance)
	if err != nil {
		return fmt.Errorf("invalid reconciliation tolerance: %w", err)
	}
	reconciler := remapp.NewReconciliationService(st.remittances, st.transactions, st.tx, locker, publisher,
		reminfra.NewSheetParser(), ids, remapp.Config{
			AutoMatch:       cfg.Reconciliation.AutoMatch,
			Tolerance:       tolerance,
			SubmittedTopic:  cfg.Kafka.SubmittedTopic,
			ReconciledTopic: cfg.Kafka.ReconciledTopic,
		}, log, m)

	// 罢工基金
	forecaster := fundapp.NewForecaster(st.funds, st.flows, st.alerts, st.tx, locker, publisher, ids, fundapp.Config{
		Params:              fundapp.ParamsFromConfig(cfg.Forecast),
		DefaultForecastDays: cfg.Forecast.DefaultForecastDays,
		MaxConcurrent:       cfg.Forecast.MaxConcurrentForecasts,
		AlertTopic:          cfg.Kafka.AlertTopic,
	}, log, m)

	// Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware(m), middleware.GinCORSMiddleware())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(prometheus.DefaultGatherer)))
	}

	api := router.Group("/api/v1")
	dueshttp.NewDuesHandler(engine, ruleSvc, billingSvc).RegisterRoutes(api)
	remhttp.NewRemittanceHandler(reconciler, middleware.RateLimitMiddleware(limiter, cfg.RateLimit)).RegisterRoutes(api)
	fundhttp.NewFundHandler(forecaster).RegisterRoutes(api)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// gRPC 仅暴露健康检查与反射
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
	))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr())
			if err != nil {
				return fmt.Errorf("failed to listen gRPC: %w", err)
			}
			log.Info("starting gRPC server", "addr", cfg.GRPC.Addr())
			healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}

	// 汇款提交事件触发自动对账
	if cfg.Kafka.Enabled {
		dlq := mq.NewDeadLetterQueue(publisher, cfg.Kafka.SubmittedTopic+".dlq")
		consumer := mq.NewConsumer(kafkaCfg, cfg.Kafka.SubmittedTopic, dlq)
		handler := remconsumer.NewSubmittedHandler(reconciler, log)
		g.Go(func() error {
			defer consumer.Close()
			log.Info("starting submitted consumer", "topic", cfg.Kafka.SubmittedTopic)
			if err := consumer.Run(ctx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("submitted consumer error: %w", err)
			}
			return nil
		})
	}

	if cfg.Alerts.Enabled {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Alerts.Interval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					n, err := forecaster.ProcessAutomatedAlerts(ctx)
					if err != nil {
						log.Warn("automated alert run failed", "alerts", n, "error", err)
					}
				}
			}
		})
	}

	// Signals
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		healthServer.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func migrate(gdb *gorm.DB) error {
	for name, fn := range map[string]func(*gorm.DB) error{
		"dues":       duespersistence.AutoMigrate,
		"remittance": reminfra.AutoMigrate,
		"strikefund": fundpersistence.AutoMigrate,
	} {
		if err := fn(gdb); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", name, err)
		}
	}
	return nil
}

// newStores gdb 为空时使用内存仓储
func newStores(gdb *gorm.DB) *stores {
	if gdb == nil {
		return &stores{
			tx:           db.NopTransactor{},
			rules:        duesmemory.NewRuleRepository(),
			assignments:  duesmemory.NewAssignmentRepository(),
			transactions: duesmemory.NewTransactionRepository(),
			remittances:  reminfra.NewMemoryRemittanceRepository(),
			funds:        fundmemory.NewFundRepository(),
			flows:        fundmemory.NewFlowRepository(),
			alerts:       fundmemory.NewAlertStore(),
		}
	}
	return &stores{
		tx:           db.NewTransactionManager(gdb),
		rules:        duespersistence.NewRuleRepository(gdb),
		assignments:  duespersistence.NewAssignmentRepository(gdb),
		transactions: duespersistence.NewTransactionRepository(gdb),
		remittances:  reminfra.NewRemittanceRepository(gdb),
		funds:        fundpersistence.NewFundRepository(gdb),
		flows:        fundpersistence.NewFlowRepository(gdb),
		alerts:       fundpersistence.NewAlertRepository(gdb),
	}
}
