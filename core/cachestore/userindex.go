package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BeanGreen247/xylonic-sub000/core/hashid"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// UserIndex 单个（用户，服务器）身份的缓存索引
// 记录该用户离线可用的歌曲，不参与全局去重簿记
type UserIndex struct {
	mu     sync.Mutex
	store  storage.Store
	ledger string
	data   *model.UserIndexFile
	dirty  bool
}

// OpenUserIndex 加载用户缓存索引，账本不存在时创建空索引
// 加载时校验归属字节数，与条目求和不一致则重算并落盘
func OpenUserIndex(ctx context.Context, store storage.Store, userID, username, serverURL string) (*UserIndex, error) {
	ledger := "index_" + hashid.UserKey(serverURL, userID)

	raw, err := store.ReadLedger(ctx, ledger)
	if err != nil {
		return nil, fmt.Errorf("加载用户缓存索引失败: %w", err)
	}

	data := model.NewUserIndexFile(userID, username, serverURL)
	if raw != nil {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("解析用户缓存索引失败: %w", err)
		}
		if data.Songs == nil {
			data.Songs = make(map[string]*model.CachedSongMeta)
		}
	}

	idx := &UserIndex{store: store, ledger: ledger, data: data}

	// 自愈：中断的写入可能导致聚合值漂移
	var sum int64
	for _, s := range data.Songs {
		sum += s.Size
	}
	if sum != data.TotalBytes {
		logger.Warn("用户索引字节总数不一致，已重算",
			logger.String("userId", userID),
			logger.Int64("stored", data.TotalBytes),
			logger.Int64("computed", sum))
		data.TotalBytes = sum
		idx.persist(ctx)
	}

	return idx, nil
}

// RecordSong 记录或更新一首已缓存歌曲，并重算归属字节数
func (idx *UserIndex) RecordSong(ctx context.Context, meta *model.CachedSongMeta) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.data.Songs[meta.SongID] = meta
	idx.recalcLocked()
	idx.persist(ctx)
}

// ForgetSong 移除一首歌曲，返回被移除的元数据
func (idx *UserIndex) ForgetSong(ctx context.Context, songID string) (*model.CachedSongMeta, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.data.Songs[songID]
	if !ok {
		return nil, false
	}
	delete(idx.data.Songs, songID)
	idx.recalcLocked()
	idx.persist(ctx)
	return meta, true
}

// IsCached 判断歌曲是否已在该用户的缓存中
func (idx *UserIndex) IsCached(songID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, ok := idx.data.Songs[songID]
	return ok
}

// Get 返回歌曲元数据的副本
func (idx *UserIndex) Get(songID string) (model.CachedSongMeta, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.data.Songs[songID]
	if !ok {
		return model.CachedSongMeta{}, false
	}
	return *meta, true
}

// TouchAccessed 更新歌曲的最近访问时间，落盘失败不影响读取
func (idx *UserIndex) TouchAccessed(ctx context.Context, songID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.data.Songs[songID]
	if !ok {
		return
	}
	meta.LastAccessed = time.Now()
	idx.persist(ctx)
}

// Songs 返回全部歌曲元数据副本，按缓存时间排序
func (idx *UserIndex) Songs() []model.CachedSongMeta {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	songs := make([]model.CachedSongMeta, 0, len(idx.data.Songs))
	for _, meta := range idx.data.Songs {
		songs = append(songs, *meta)
	}
	sort.Slice(songs, func(i, j int) bool {
		return songs[i].CachedAt.Before(songs[j].CachedAt)
	})
	return songs
}

// Albums 按专辑聚合缓存统计，读取时派生
func (idx *UserIndex) Albums() []model.AlbumCacheSummary {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byAlbum := make(map[string]*model.AlbumCacheSummary)
	for _, meta := range idx.data.Songs {
		summary, ok := byAlbum[meta.AlbumID]
		if !ok {
			summary = &model.AlbumCacheSummary{
				AlbumID: meta.AlbumID,
				Album:   meta.Album,
				Artist:  meta.Artist,
			}
			byAlbum[meta.AlbumID] = summary
		}
		summary.SongCount++
		summary.TotalBytes += meta.Size
	}

	albums := make([]model.AlbumCacheSummary, 0, len(byAlbum))
	for _, summary := range byAlbum {
		albums = append(albums, *summary)
	}
	sort.Slice(albums, func(i, j int) bool {
		return albums[i].Album < albums[j].Album
	})
	return albums
}

// TotalBytes 返回该用户的归属字节数（不与其他用户去重）
func (idx *UserIndex) TotalBytes() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.data.TotalBytes
}

// SongCount 返回缓存歌曲数量
func (idx *UserIndex) SongCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.data.Songs)
}

// CountByCoverHash 统计引用某封面哈希的歌曲数量
func (idx *UserIndex) CountByCoverHash(hash string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count := 0
	for _, meta := range idx.data.Songs {
		if meta.CoverArtHash == hash {
			count++
		}
	}
	return count
}

// CountByArtist 统计某艺术家名下的缓存歌曲数量
func (idx *UserIndex) CountByArtist(artistID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count := 0
	for _, meta := range idx.data.Songs {
		if meta.ArtistID == artistID {
			count++
		}
	}
	return count
}

// Recalculate 重算归属字节数并落盘，校验流程使用
func (idx *UserIndex) Recalculate(ctx context.Context) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.recalcLocked()
	idx.persist(ctx)
	return idx.data.TotalBytes
}

// Dirty 返回是否存在尚未成功落盘的变更
func (idx *UserIndex) Dirty() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.dirty
}

// FlushDirty 重试落盘此前失败的变更
func (idx *UserIndex) FlushDirty(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.dirty {
		return nil
	}
	return idx.saveLocked(ctx)
}

// Delete 删除索引账本，仅在移除账户时使用
func (idx *UserIndex) Delete(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.store.DeleteLedger(ctx, idx.ledger)
}

func (idx *UserIndex) recalcLocked() {
	var sum int64
	for _, s := range idx.data.Songs {
		sum += s.Size
	}
	idx.data.TotalBytes = sum
}

func (idx *UserIndex) persist(ctx context.Context) {
	if err := idx.saveLocked(ctx); err != nil {
		logger.Error("用户索引落盘失败，内存状态继续生效",
			logger.String("userId", idx.data.UserID),
			logger.ErrorField(err))
	}
}

func (idx *UserIndex) saveLocked(ctx context.Context) error {
	idx.data.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(idx.data, "", "  ")
	if err != nil {
		idx.dirty = true
		return fmt.Errorf("序列化用户索引失败: %w", err)
	}
	if err := idx.store.WriteLedger(ctx, idx.ledger, raw); err != nil {
		idx.dirty = true
		return err
	}
	idx.dirty = false
	return nil
}
