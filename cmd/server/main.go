package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/drivelog/internal/anomaly"
	"github.com/langchou/drivelog/internal/api/handlers"
	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/location"
	"github.com/langchou/drivelog/internal/power"
	"github.com/langchou/drivelog/internal/repository"
	"github.com/langchou/drivelog/internal/service"
	"github.com/langchou/drivelog/internal/tracker"
	"github.com/langchou/drivelog/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Drivelog", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	recordRepo := repository.NewRecordRepository(db)

	// 组装跟踪管线：设备定位源 → 采样器 → 距离累计器
	deviceSource := location.NewDeviceSource()
	powerController := power.NewController(logger, cfg)
	sampler := location.NewSampler(logger, deviceSource, powerController, cfg.AccuracyThresholdM, cfg.FixTimeout)
	accumulator := tracker.New(logger, cfg, powerController)

	// 创建服务
	detector := anomaly.NewDetector(cfg)
	mileageService := service.NewMileageService(logger, recordRepo, detector)
	trackingService := service.NewTrackingService(logger, sampler, accumulator, mileageService)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 订阅去抖后的跟踪更新并广播到 WebSocket
	go func() {
		updates := accumulator.Subscribe()
		for update := range updates {
			wsHub.BroadcastTrackingUpdate(update)
		}
	}()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		trackingService,
		mileageService,
		powerController,
		deviceSource,
		recordRepo,
		wsHub,
	)
	wsHub.SetInitDataProvider(handler.InitData)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 同步落盘活跃会话的进度，再关闭服务器
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := trackingService.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to flush tracking progress", zap.Error(err))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
