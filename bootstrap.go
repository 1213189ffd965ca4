package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/foodfest/offline-cache/internal/cache"
	"github.com/foodfest/offline-cache/internal/config"
	"github.com/foodfest/offline-cache/internal/host"
	"github.com/foodfest/offline-cache/internal/logging"
	"github.com/foodfest/offline-cache/internal/network"
	"github.com/foodfest/offline-cache/internal/proxy"
	"github.com/foodfest/offline-cache/internal/server"
	"github.com/foodfest/offline-cache/internal/server/routes"
	"github.com/foodfest/offline-cache/internal/worker"
)

// service 聚合一次进程生命周期内共享的存储、宿主与 HTTP 应用。
type service struct {
	cfg        *config.Config
	storage    cache.Storage
	host       *host.Host
	controller *worker.Controller
	app        *fiber.App
}

// newService 按“缓存存储 → 控制器 → 宿主 → Fiber app”顺序组装依赖。
func newService(cfg *config.Config, logger *logrus.Logger, fetcher network.Fetcher) (*service, error) {
	runtime, err := config.BuildWorkerRuntime(cfg.Worker)
	if err != nil {
		return nil, err
	}

	storage, err := cache.NewStorage(cfg.Global.StoreBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	if fetcher == nil {
		fetcher = network.NewFetcher(network.NewUpstreamClient(cfg))
	}

	controller, err := worker.NewController(worker.Options{
		AppPrefix: runtime.Config.AppPrefix,
		Version:   runtime.Config.Version,
		Manifest:  runtime.Config.Manifest,
		Origin:    runtime.Origin,
		Policy:    runtime.Policy,
		Storage:   storage,
		Network:   fetcher,
		Logger:    logger,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	h, err := host.New(host.Options{
		StateDir: cfg.Global.StoragePath,
		Network:  fetcher,
		Logger:   logger,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(h, runtime.Origin, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, h, storage)

	return &service{
		cfg:        cfg,
		storage:    storage,
		host:       h,
		controller: controller,
		app:        app,
	}, nil
}

// register 把当前控制器版本交给宿主。install 失败不阻止服务启动：
// 宿主保持旧版本或直连网络，等待下一次部署或重启重试。
func (s *service) register(ctx context.Context, logger *logrus.Logger) {
	err := s.host.Register(ctx, s.controller)
	if err == nil {
		return
	}
	fields := logging.EventFields("register", s.controller.Version(), s.controller.CacheName())
	switch {
	case errors.Is(err, host.ErrInstallFailed):
		logger.WithFields(fields).WithError(err).Error("新版本安装失败，继续以当前状态提供服务")
	default:
		logger.WithFields(fields).WithError(err).Warn("新版本已激活，但旧缓存清理未完成")
	}
}

func (s *service) Close() error {
	s.host.Close()
	return s.storage.Close()
}
