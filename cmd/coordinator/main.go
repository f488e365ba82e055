package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/common/mq"
	"gavel/internal/coordinator/broker"
	"gavel/internal/coordinator/controller"
	"gavel/internal/coordinator/dispatch"
	"gavel/internal/coordinator/health"
	"gavel/internal/coordinator/ingest"
	"gavel/internal/coordinator/middleware"
	"gavel/internal/coordinator/registry"
	"gavel/internal/coordinator/repository"
	"gavel/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/coordinator.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	nodeRepo := repository.NewNodeRepository(mysqlDB)
	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	problemRepo := repository.NewProblemRepository(mysqlDB)

	reg := registry.New(nodeRepo)
	var dispatchOpts []dispatch.Option
	if appCfg.Dispatch.MaxRetries > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithMaxRetries(appCfg.Dispatch.MaxRetries))
	}
	dispatcher := dispatch.New(reg, submissionRepo, problemRepo, dispatchOpts...)
	ingester := ingest.New(dispatcher, submissionRepo, problemRepo)

	var monitorOpts []health.Option
	if appCfg.Dispatch.SweepInterval > 0 {
		monitorOpts = append(monitorOpts, health.WithSweepInterval(appCfg.Dispatch.SweepInterval))
	}
	if appCfg.Dispatch.LivenessTimeout > 0 {
		monitorOpts = append(monitorOpts, health.WithLivenessTimeout(appCfg.Dispatch.LivenessTimeout))
	}
	monitor := health.New(reg, dispatcher, ingester, monitorOpts...)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	monitor.Start(rootCtx)
	defer monitor.Stop()

	if appCfg.Broker.Enabled {
		mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()

		bridge := broker.New(broker.Config{
			Queue:       mqClient,
			Dispatcher:  dispatcher,
			Ingester:    ingester,
			TaskTopic:   appCfg.Broker.TaskTopic,
			ResultTopic: appCfg.Broker.ResultTopic,
			Group:       appCfg.Broker.Group,
		})
		if err := bridge.Start(rootCtx); err != nil {
			logger.Error(context.Background(), "start broker bridge failed", zap.Error(err))
			return
		}
		defer bridge.Stop()
	}

	httpServer := buildHTTPServer(appCfg, reg, dispatcher, ingester)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "coordinator http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, reg *registry.Registry, dispatcher *dispatch.Dispatcher, ingester *ingest.Ingester) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(requestLogger())

	judgerCtrl := controller.NewJudgerController(reg, dispatcher, ingester)
	judgerAPI := router.Group("/api/judger")
	judgerAPI.Use(middleware.NodeAuthMiddleware(reg))
	judgerAPI.POST("/connect", judgerCtrl.Connect)
	judgerAPI.POST("/heartbeat", judgerCtrl.Heartbeat)
	judgerAPI.POST("/fetch", judgerCtrl.Fetch)
	judgerAPI.POST("/report", judgerCtrl.Report)

	adminAuth := middleware.NewAdminAuth(cfg.Auth.AdminSecret, cfg.Auth.AdminIssuer)
	adminCtrl := controller.NewAdminController(reg, dispatcher, cfg.Server.PublicURL)
	adminAPI := router.Group("/api/admin")
	adminAPI.Use(middleware.AdminAuthMiddleware(adminAuth))
	adminAPI.POST("/judgers", adminCtrl.RegisterNode)
	adminAPI.GET("/judgers", adminCtrl.ListNodes)
	adminAPI.POST("/judgers/:id/enabled", adminCtrl.SetEnabled)
	adminAPI.DELETE("/judgers/:id", adminCtrl.RemoveNode)
	adminAPI.GET("/queue", adminCtrl.QueueStatus)
	adminAPI.POST("/submissions/:id/rejudge", adminCtrl.Rejudge)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
