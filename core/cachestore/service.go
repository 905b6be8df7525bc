package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/BeanGreen247/xylonic-sub000/core/hashid"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// ErrNotCached 歌曲不在该用户的缓存中
var ErrNotCached = errors.New("歌曲未缓存")

// CacheService 缓存子系统唯一的对外入口
// 组合注册表与用户索引，维护跨账本约束；显式构造、依赖注入，不使用全局单例
type CacheService struct {
	userID    string
	username  string
	serverURL string
	registry  *Registry
	index     *UserIndex
	profile   *ProfileStore
	store     storage.Store
}

// NewCacheService 创建缓存服务
// 注册表在同一安装下的多个服务实例间共享，索引与画像归属该用户
func NewCacheService(userID, username, serverURL string, registry *Registry, index *UserIndex, profile *ProfileStore, store storage.Store) *CacheService {
	return &CacheService{
		userID:    userID,
		username:  username,
		serverURL: serverURL,
		registry:  registry,
		index:     index,
		profile:   profile,
		store:     store,
	}
}

// UserID 返回该服务归属的用户标识
func (s *CacheService) UserID() string {
	return s.userID
}

// Profile 返回该用户的画像存储
func (s *CacheService) Profile() *ProfileStore {
	return s.profile
}

// AddToCache 将一首下载完成的歌曲写入缓存
// 物理写入最多发生一次（全局）；物理写入失败时向调用方传播，账本写入失败仅记录日志
func (s *CacheService) AddToCache(ctx context.Context, song model.SongDescriptor, quality string, audioBytes []byte, ext string) error {
	hash := hashid.AudioHash(s.serverURL, song.SongID)

	entry, err := s.registry.GetOrCreateAudioEntry(ctx, hash, audioBytes, quality, ext)
	if err != nil {
		// 文件没写成功就不允许有条目，下载按失败处理
		return err
	}
	if err := s.registry.AddAudioRef(ctx, hash, s.userID); err != nil {
		logger.Error("增加音频引用失败", logger.String("songId", song.SongID), logger.ErrorField(err))
	}

	meta := &model.CachedSongMeta{
		SongID:       song.SongID,
		Title:        song.Title,
		Artist:       song.Artist,
		Album:        song.Album,
		AlbumID:      song.AlbumID,
		ArtistID:     song.ArtistID,
		Duration:     song.Duration,
		Quality:      quality,
		AudioHash:    hash,
		Size:         entry.Size,
		CachedAt:     time.Now(),
		LastAccessed: time.Now(),
	}
	// 重复添加时保留已有的封面关联
	if prev, ok := s.index.Get(song.SongID); ok {
		meta.CoverArtID = prev.CoverArtID
		meta.CoverArtHash = prev.CoverArtHash
		meta.ArtistCoverArtID = prev.ArtistCoverArtID
		meta.CachedAt = prev.CachedAt
	}
	s.index.RecordSong(ctx, meta)

	s.profile.AddDownloadHistory(ctx, model.DownloadHistoryEntry{
		SongID:       song.SongID,
		Title:        song.Title,
		Album:        song.Album,
		DownloadedAt: time.Now(),
	})

	logger.Info("歌曲已加入缓存",
		logger.String("songId", song.SongID),
		logger.String("title", song.Title),
		logger.String("hash", hash),
		logger.Int64("size", entry.Size))
	return nil
}

// CacheCoverArt 缓存封面
// 先查别名映射：该ID已被任何用户缓存过时不再落盘，只补登记本用户引用
func (s *CacheService) CacheCoverArt(ctx context.Context, coverArtID string, imageBytes []byte, ext string) (string, error) {
	if hash, ok := s.registry.ResolveCoverArt(coverArtID); ok {
		if err := s.registry.AddCoverArtRef(ctx, hash, s.userID); err != nil {
			logger.Error("增加封面引用失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
		}
		return hash, nil
	}

	hash := hashid.CoverArtHash(s.serverURL, coverArtID)
	if _, err := s.registry.GetOrCreateCoverArtEntry(ctx, hash, coverArtID, imageBytes, ext); err != nil {
		return "", err
	}
	if err := s.registry.AddCoverArtRef(ctx, hash, s.userID); err != nil {
		logger.Error("增加封面引用失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
	}
	return hash, nil
}

// AliasCoverArt 将 newID 登记为已缓存封面的别名并补登记本用户引用
// 不抓取也不存储图像字节
func (s *CacheService) AliasCoverArt(ctx context.Context, newID, existingID string) (string, error) {
	if err := s.registry.CreateCoverArtAlias(ctx, newID, existingID); err != nil {
		return "", err
	}
	hash, _ := s.registry.ResolveCoverArt(newID)
	if err := s.registry.AddCoverArtRef(ctx, hash, s.userID); err != nil {
		logger.Error("增加封面引用失败", logger.String("coverArtId", newID), logger.ErrorField(err))
	}
	return hash, nil
}

// ResolveCoverArt 查询封面ID是否已被缓存
func (s *CacheService) ResolveCoverArt(coverArtID string) (string, bool) {
	return s.registry.ResolveCoverArt(coverArtID)
}

// ReferenceCoverArt 封面ID已被缓存时补登记本用户引用
// 未缓存时返回 false，不做任何抓取或落盘
func (s *CacheService) ReferenceCoverArt(ctx context.Context, coverArtID string) (string, bool) {
	hash, ok := s.registry.ResolveCoverArt(coverArtID)
	if !ok {
		return "", false
	}
	if err := s.registry.AddCoverArtRef(ctx, hash, s.userID); err != nil {
		logger.Error("增加封面引用失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
	}
	return hash, true
}

// AttachCoverArt 把封面关联写入索引中的歌曲条目
func (s *CacheService) AttachCoverArt(ctx context.Context, songID, coverArtID, coverArtHash, artistCoverArtID string) {
	meta, ok := s.index.Get(songID)
	if !ok {
		return
	}
	if coverArtID != "" {
		meta.CoverArtID = coverArtID
		meta.CoverArtHash = coverArtHash
	}
	if artistCoverArtID != "" {
		meta.ArtistCoverArtID = artistCoverArtID
	}
	s.index.RecordSong(ctx, &meta)
}

// IsCached 判断歌曲是否已缓存
func (s *CacheService) IsCached(songID string) bool {
	return s.index.IsCached(songID)
}

// GetCachedFilePath 解析歌曲的物理路径：索引 → 注册表 → 物理路径
// 副作用更新最近访问时间，访问时间落盘失败不影响读取
func (s *CacheService) GetCachedFilePath(ctx context.Context, songID string) (string, bool) {
	meta, ok := s.index.Get(songID)
	if !ok {
		return "", false
	}
	entry, ok := s.registry.AudioEntry(meta.AudioHash)
	if !ok {
		return "", false
	}
	s.index.TouchAccessed(ctx, songID)
	return s.store.ContentPath(entry.FilePath), true
}

// GetCoverArtPath 解析封面ID的物理路径
func (s *CacheService) GetCoverArtPath(coverArtID string) (string, bool) {
	hash, ok := s.registry.ResolveCoverArt(coverArtID)
	if !ok {
		return "", false
	}
	entry, ok := s.registry.CoverArtEntry(hash)
	if !ok {
		return "", false
	}
	return s.store.ContentPath(entry.FilePath), true
}

// RemoveFromCache 从缓存移除一首歌曲
// 递减注册表引用（可能触发共享文件回收），再移除索引条目
func (s *CacheService) RemoveFromCache(ctx context.Context, songID string) error {
	meta, ok := s.index.ForgetSong(ctx, songID)
	if !ok {
		return ErrNotCached
	}

	if err := s.registry.RemoveAudioRef(ctx, meta.AudioHash, s.userID); err != nil {
		logger.Error("移除音频引用失败", logger.String("songId", songID), logger.ErrorField(err))
	}

	// 该用户名下已无歌曲引用此封面时才释放封面引用
	if meta.CoverArtHash != "" && s.index.CountByCoverHash(meta.CoverArtHash) == 0 {
		if err := s.registry.RemoveCoverArtRef(ctx, meta.CoverArtHash, s.userID); err != nil {
			logger.Error("移除封面引用失败", logger.String("songId", songID), logger.ErrorField(err))
		}
	}

	// 艺术家封面同理，按艺术家维度判断
	if meta.ArtistCoverArtID != "" && s.index.CountByArtist(meta.ArtistID) == 0 {
		if hash, ok := s.registry.ResolveCoverArt(meta.ArtistCoverArtID); ok {
			if err := s.registry.RemoveCoverArtRef(ctx, hash, s.userID); err != nil {
				logger.Error("移除艺术家封面引用失败", logger.String("songId", songID), logger.ErrorField(err))
			}
		}
	}

	logger.Info("歌曲已移出缓存", logger.String("songId", songID), logger.String("title", meta.Title))
	return nil
}

// RemoveAlbumFromCache 移除整张专辑：逐首移除，正确性优先于吞吐
func (s *CacheService) RemoveAlbumFromCache(ctx context.Context, albumID string) (int, error) {
	removed := 0
	for _, meta := range s.index.Songs() {
		if meta.AlbumID != albumID {
			continue
		}
		if err := s.RemoveFromCache(ctx, meta.SongID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ClearAll 清空该用户的全部缓存，逐首释放共享引用；用户画像保留
func (s *CacheService) ClearAll(ctx context.Context) (int, error) {
	removed := 0
	for _, meta := range s.index.Songs() {
		if err := s.RemoveFromCache(ctx, meta.SongID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Albums 返回该用户含缓存歌曲的专辑列表
func (s *CacheService) Albums() []model.AlbumCacheSummary {
	return s.index.Albums()
}

// Songs 返回该用户的全部缓存歌曲
func (s *CacheService) Songs() []model.CachedSongMeta {
	return s.index.Songs()
}

// Stats 返回缓存统计
func (s *CacheService) Stats() model.CacheStats {
	audioCount, coverCount, totalBytes := s.registry.Stats()
	return model.CacheStats{
		SongCount:       s.index.SongCount(),
		AttributedBytes: s.index.TotalBytes(),
		SharedAudio:     audioCount,
		SharedCoverArt:  coverCount,
		SharedBytes:     totalBytes,
	}
}

// RebuildAndVerify 校验每个索引条目对应的注册表条目与物理文件是否存在
// 只报告不修复；缺失文件的重新下载需要重新入队
func (s *CacheService) RebuildAndVerify(ctx context.Context) (model.VerifyReport, error) {
	report := model.VerifyReport{}

	for _, meta := range s.index.Songs() {
		entry, ok := s.registry.AudioEntry(meta.AudioHash)
		if !ok {
			report.MissingEntries++
			if len(report.MissingSamples) < 10 {
				report.MissingSamples = append(report.MissingSamples, meta.SongID)
			}
			continue
		}

		exists, err := s.store.FileExists(ctx, entry.FilePath)
		if err != nil {
			return report, err
		}
		if !exists {
			report.MissingFiles++
			if len(report.MissingSamples) < 10 {
				report.MissingSamples = append(report.MissingSamples, meta.SongID)
			}
			continue
		}
		report.Verified++
	}

	report.AttributedBytes = s.index.Recalculate(ctx)

	logger.Info("缓存校验完成",
		logger.Int("verified", report.Verified),
		logger.Int("missingEntries", report.MissingEntries),
		logger.Int("missingFiles", report.MissingFiles))
	return report, nil
}

// FlushDirty 重试落盘所有存在脏标记的账本
func (s *CacheService) FlushDirty(ctx context.Context) error {
	if err := s.registry.FlushDirty(ctx); err != nil {
		return err
	}
	if err := s.index.FlushDirty(ctx); err != nil {
		return err
	}
	return s.profile.FlushDirty(ctx)
}
