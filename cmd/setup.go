package cmd

import (
	"context"
	"fmt"

	"github.com/BeanGreen247/xylonic-sub000/cache"
	"github.com/BeanGreen247/xylonic-sub000/config"
	"github.com/BeanGreen247/xylonic-sub000/core/cachestore"
	"github.com/BeanGreen247/xylonic-sub000/core/download"
	"github.com/BeanGreen247/xylonic-sub000/core/subsonic"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// app 聚合一次命令运行所需的全部组件
// 所有组件显式构造、依赖注入，不使用进程级单例
type app struct {
	cfg         *config.Config
	store       storage.Store
	registry    *cachestore.Registry
	svc         *cachestore.CacheService
	client      *subsonic.Client
	pipeline    *download.Pipeline
	searchCache *cache.SearchCache
	artwork     *cache.ArtworkStore
}

// bootstrap 加载配置、初始化日志并组装组件
func bootstrap(ctx context.Context) (*app, error) {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogOutputPath,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	})

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := cachestore.OpenRegistry(ctx, store)
	if err != nil {
		return nil, err
	}

	index, err := cachestore.OpenUserIndex(ctx, store, cfg.Username, cfg.Username, cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	profile, err := cachestore.OpenProfileStore(ctx, store, cfg.Username, cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	svc := cachestore.NewCacheService(cfg.Username, cfg.Username, cfg.ServerURL, registry, index, profile, store)
	client := subsonic.NewClient(cfg)

	pipeline := download.NewPipeline(svc, client, download.Config{
		MaxRetries:     cfg.MaxRetries,
		AutoClearDelay: cfg.AutoClearDelay,
		Timeout:        cfg.DownloadTimeout,
	})

	redisClient, err := cache.ConnectRedis(cfg)
	if err != nil {
		// 搜索缓存是建议性的，连接失败时禁用而不是中止
		logger.Warn("Redis连接失败，搜索缓存已禁用", logger.ErrorField(err))
		redisClient = nil
	}

	artwork, err := cache.OpenArtworkStore(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("打开封面预览缓存失败: %w", err)
	}

	return &app{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		svc:         svc,
		client:      client,
		pipeline:    pipeline,
		searchCache: cache.NewSearchCache(redisClient),
		artwork:     artwork,
	}, nil
}

// newStore 按配置选择存储后端
func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "minio":
		return storage.NewMinioStore(cfg)
	case "local", "":
		return storage.NewLocalStore(cfg.CacheDir)
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", cfg.StorageBackend)
	}
}
