package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
)

// 专辑元数据缓存的过期时间
const albumCacheTTL = 24 * time.Hour

// SearchCache 远端专辑元数据的临时缓存
// 未配置 Redis 时全部操作退化为未命中，不影响功能
type SearchCache struct {
	client *redis.Client
}

// NewSearchCache 创建搜索缓存，client 为 nil 时缓存被禁用
func NewSearchCache(client *redis.Client) *SearchCache {
	return &SearchCache{client: client}
}

// Enabled 缓存是否可用
func (c *SearchCache) Enabled() bool {
	return c.client != nil
}

func albumKey(serverURL, albumID string) string {
	return fmt.Sprintf("album:%s:%s", serverURL, albumID)
}

// PutAlbum 缓存专辑元数据
func (c *SearchCache) PutAlbum(ctx context.Context, serverURL string, album *model.RemoteAlbum) {
	if c.client == nil {
		return
	}

	raw, err := json.Marshal(album)
	if err != nil {
		logger.Error("序列化专辑缓存失败", logger.String("albumId", album.ID), logger.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, albumKey(serverURL, album.ID), raw, albumCacheTTL).Err(); err != nil {
		logger.Warn("写入专辑缓存失败", logger.String("albumId", album.ID), logger.ErrorField(err))
	}
}

// GetAlbum 读取专辑元数据，未命中或出错时返回 (nil, false)
func (c *SearchCache) GetAlbum(ctx context.Context, serverURL, albumID string) (*model.RemoteAlbum, bool) {
	if c.client == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, albumKey(serverURL, albumID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("读取专辑缓存失败", logger.String("albumId", albumID), logger.ErrorField(err))
		}
		return nil, false
	}

	var album model.RemoteAlbum
	if err := json.Unmarshal(raw, &album); err != nil {
		logger.Warn("解析专辑缓存失败", logger.String("albumId", albumID), logger.ErrorField(err))
		return nil, false
	}
	return &album, true
}
