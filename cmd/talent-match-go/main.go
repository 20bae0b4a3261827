package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talent-match-go/internal/api/handler"
	"talent-match-go/internal/api/router"
	"talent-match-go/internal/config"
	appLogger "talent-match-go/internal/logger"
	"talent-match-go/internal/outbox"
	"talent-match-go/internal/processor"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/tracing"
	"talent-match-go/internal/tracking"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 链路追踪
	shutdownTracing, err := tracing.InitProvider(ctx, &cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracing(shutdownCtx); err != nil {
			glog.Warnf("链路追踪关闭失败: %v", err)
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	// 其余组件可以降级运行，MySQL是硬依赖
	if storageManager.MySQL == nil {
		glog.Fatalf("MySQL初始化失败，服务无法启动")
	}
	glog.Info("存储服务初始化成功")

	// 启动outbox消息中继
	var messageRelay *outbox.MessageRelay
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, appLogger.Logger)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	matchService, err := processor.NewMatchService(cfg, storageManager, appLogger.Logger)
	if err != nil {
		glog.Fatalf("初始化匹配服务失败: %v", err)
	}
	glog.Info("匹配服务初始化成功")

	var trackerOptions []tracking.TrackerOption
	if cfg.Tracking.StrictTransitions {
		trackerOptions = append(trackerOptions, tracking.WithStrictTransitions())
	}
	stateTracker := tracking.NewStateTracker(storageManager.MySQL, appLogger.Logger, trackerOptions...)

	matchHandler := handler.NewMatchHandler(cfg, storageManager, matchService, appLogger.Logger)
	trackingHandler := handler.NewTrackingHandler(storageManager.MySQL, stateTracker, appLogger.Logger)

	// 评估任务消费者
	var consumerStop <-chan struct{}
	if storageManager.RabbitMQ != nil {
		consumerStop, err = matchHandler.StartMatchTaskConsumer(ctx)
		if err != nil {
			glog.Fatalf("启动评估任务消费者失败: %v", err)
		}
		glog.Info("评估任务消费者已启动")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, matchHandler, trackingHandler)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	// cancel关闭消费者的context，等待其退出
	cancel()
	if consumerStop != nil {
		select {
		case <-consumerStop:
		case <-time.After(5 * time.Second):
			glog.Warn("评估任务消费者未在超时内退出")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Fatalf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg *config.Config) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	// Hertz的日志也走zerolog
	hertzLogger := hertzadapter.From(appLogger.Logger)
	glog.SetLogger(hertzLogger)
	if level, err := zerolog.ParseLevel(cfg.Logger.Level); err == nil {
		switch level {
		case zerolog.DebugLevel:
			glog.SetLevel(glog.LevelDebug)
		case zerolog.WarnLevel:
			glog.SetLevel(glog.LevelWarn)
		case zerolog.ErrorLevel:
			glog.SetLevel(glog.LevelError)
		default:
			glog.SetLevel(glog.LevelInfo)
		}
	}
}
