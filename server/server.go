// Package server 提供本地控制接口
// 暴露缓存统计、队列操作与进度事件推送，供界面或其他协作方消费
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/BeanGreen247/xylonic-sub000/cache"
	"github.com/BeanGreen247/xylonic-sub000/config"
	"github.com/BeanGreen247/xylonic-sub000/core/cachestore"
	"github.com/BeanGreen247/xylonic-sub000/core/download"
	"github.com/BeanGreen247/xylonic-sub000/core/subsonic"
	"github.com/BeanGreen247/xylonic-sub000/logger"
)

// ControlServer 本地控制服务
type ControlServer struct {
	cfg         *config.Config
	svc         *cachestore.CacheService
	pipeline    *download.Pipeline
	client      *subsonic.Client
	searchCache *cache.SearchCache
	artwork     *cache.ArtworkStore
}

// NewControlServer 创建控制服务
func NewControlServer(cfg *config.Config, svc *cachestore.CacheService, pipeline *download.Pipeline, client *subsonic.Client, searchCache *cache.SearchCache, artwork *cache.ArtworkStore) *ControlServer {
	return &ControlServer{
		cfg:         cfg,
		svc:         svc,
		pipeline:    pipeline,
		client:      client,
		searchCache: searchCache,
		artwork:     artwork,
	}
}

// Router 组装路由
func (s *ControlServer) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/albums", s.handleCacheAlbums).Methods(http.MethodGet)
	api.HandleFunc("/cache/songs", s.handleCacheSongs).Methods(http.MethodGet)
	api.HandleFunc("/cache/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/cache/song/{id}", s.handleRemoveSong).Methods(http.MethodDelete)
	api.HandleFunc("/cache/album/{id}", s.handleRemoveAlbum).Methods(http.MethodDelete)
	api.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
	api.HandleFunc("/queue/pause", s.handleQueuePause).Methods(http.MethodPost)
	api.HandleFunc("/queue/resume", s.handleQueueResume).Methods(http.MethodPost)
	api.HandleFunc("/queue/clear", s.handleQueueClear).Methods(http.MethodPost)
	api.HandleFunc("/queue/retry", s.handleQueueRetry).Methods(http.MethodPost)
	api.HandleFunc("/download/album/{id}", s.handleDownloadAlbum).Methods(http.MethodPost)
	api.HandleFunc("/artwork/{id}", s.handleArtwork).Methods(http.MethodGet)

	r.HandleFunc("/ws/progress", s.handleProgressWS)

	return r
}

// Start 启动控制服务并阻塞直到收到退出信号
func (s *ControlServer) Start() error {
	httpServer := &http.Server{
		Addr:         s.cfg.ControlAddr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket 长连接不设写超时
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("控制服务已启动", logger.String("addr", s.cfg.ControlAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logger.Info("收到退出信号，控制服务关闭中", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 退出前尽力补写未落盘的账本变更
	if err := s.svc.FlushDirty(ctx); err != nil {
		logger.Error("退出前补写账本失败", logger.ErrorField(err))
	}

	return httpServer.Shutdown(ctx)
}
