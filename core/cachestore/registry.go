// Package cachestore 实现离线缓存的三本账本与缓存服务
// 共享对象注册表跨用户去重，用户索引与画像归属单个用户身份
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

const registryLedger = "registry"

var (
	// ErrEntryMissing 注册表中不存在对应条目
	ErrEntryMissing = errors.New("注册表条目不存在")
	// ErrUnknownCoverArt 别名指向的封面ID从未被缓存
	ErrUnknownCoverArt = errors.New("封面ID未被缓存")
	// ErrAliasConflict 封面ID已映射到另一个物理条目
	ErrAliasConflict = errors.New("封面ID已映射到其他条目")
)

// Registry 共享对象注册表，同一安装下所有用户共用一个实例
// 物理文件的生命周期由引用计数唯一决定，没有独立的回收扫描
// 多进程并发访问同一账本文件不受支持，应用必须保证单活跃进程
type Registry struct {
	mu    sync.Mutex
	store storage.Store
	data  *model.RegistryFile
	dirty bool
}

// OpenRegistry 从存储加载注册表，账本不存在时创建空表
func OpenRegistry(ctx context.Context, store storage.Store) (*Registry, error) {
	raw, err := store.ReadLedger(ctx, registryLedger)
	if err != nil {
		return nil, fmt.Errorf("加载注册表失败: %w", err)
	}

	data := model.NewRegistryFile()
	if raw != nil {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("解析注册表失败: %w", err)
		}
		// 容错：旧账本可能缺少某些映射
		if data.AudioFiles == nil {
			data.AudioFiles = make(map[string]*model.AudioFileEntry)
		}
		if data.CoverArts == nil {
			data.CoverArts = make(map[string]*model.CoverArtFileEntry)
		}
		if data.CoverArtIDs == nil {
			data.CoverArtIDs = make(map[string]string)
		}
	}

	return &Registry{store: store, data: data}, nil
}

// GetOrCreateAudioEntry 返回哈希对应的音频条目，不存在时先落盘再建条目
// 物理写入失败时不创建条目：注册表中不允许存在没有对应文件的条目
func (r *Registry) GetOrCreateAudioEntry(ctx context.Context, hash string, data []byte, quality, format string) (*model.AudioFileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.data.AudioFiles[hash]; ok {
		return entry, nil
	}

	relPath, err := r.store.SaveAudioFile(ctx, hash, data, format)
	if err != nil {
		return nil, err
	}

	entry := &model.AudioFileEntry{
		Hash:      hash,
		FilePath:  relPath,
		Size:      int64(len(data)),
		Quality:   quality,
		Format:    format,
		CreatedAt: time.Now(),
		Owners:    []string{},
	}
	r.data.AudioFiles[hash] = entry
	r.data.TotalBytes += entry.Size
	r.persistLocked(ctx)

	logger.Info("注册表新增音频条目",
		logger.String("hash", hash),
		logger.Int64("size", entry.Size),
		logger.String("quality", quality))
	return entry, nil
}

// GetOrCreateCoverArtEntry 返回哈希对应的封面条目，不存在时先落盘再建条目
func (r *Registry) GetOrCreateCoverArtEntry(ctx context.Context, hash, coverArtID string, data []byte, format string) (*model.CoverArtFileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.data.CoverArts[hash]; ok {
		return entry, nil
	}

	relPath, err := r.store.SaveCoverArtFile(ctx, hash, data, format)
	if err != nil {
		return nil, err
	}

	entry := &model.CoverArtFileEntry{
		Hash:      hash,
		FilePath:  relPath,
		Size:      int64(len(data)),
		Format:    format,
		CreatedAt: time.Now(),
		Owners:    []string{},
		PrimaryID: coverArtID,
	}
	r.data.CoverArts[hash] = entry
	r.data.CoverArtIDs[coverArtID] = hash
	r.data.TotalBytes += entry.Size
	r.persistLocked(ctx)

	logger.Info("注册表新增封面条目",
		logger.String("hash", hash),
		logger.String("coverArtId", coverArtID),
		logger.Int64("size", entry.Size))
	return entry, nil
}

// AddAudioRef 为音频条目增加用户引用，同一用户重复调用不重复计数
func (r *Registry) AddAudioRef(ctx context.Context, hash, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.AudioFiles[hash]
	if !ok {
		return ErrEntryMissing
	}
	if entry.HasOwner(userID) {
		return nil
	}
	entry.Owners = append(entry.Owners, userID)
	entry.RefCount = len(entry.Owners)
	r.persistLocked(ctx)
	return nil
}

// RemoveAudioRef 移除用户引用，引用计数归零时删除物理文件并移除条目
func (r *Registry) RemoveAudioRef(ctx context.Context, hash, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.AudioFiles[hash]
	if !ok {
		return ErrEntryMissing
	}
	if !removeOwnerFrom(&entry.Owners, userID) {
		return nil
	}
	entry.RefCount = len(entry.Owners)

	if entry.RefCount == 0 {
		if err := r.store.DeleteFile(ctx, entry.FilePath); err != nil {
			logger.Error("删除音频文件失败", logger.String("hash", hash), logger.ErrorField(err))
		}
		delete(r.data.AudioFiles, hash)
		r.data.TotalBytes -= entry.Size
		logger.Info("音频条目引用归零，已回收", logger.String("hash", hash))
	}
	r.persistLocked(ctx)
	return nil
}

// AddCoverArtRef 为封面条目增加用户引用
func (r *Registry) AddCoverArtRef(ctx context.Context, hash, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.CoverArts[hash]
	if !ok {
		return ErrEntryMissing
	}
	if entry.HasOwner(userID) {
		return nil
	}
	entry.Owners = append(entry.Owners, userID)
	entry.RefCount = len(entry.Owners)
	r.persistLocked(ctx)
	return nil
}

// RemoveCoverArtRef 移除封面引用，归零时删除文件、条目及全部别名映射
func (r *Registry) RemoveCoverArtRef(ctx context.Context, hash, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.CoverArts[hash]
	if !ok {
		return ErrEntryMissing
	}
	if !removeOwnerFrom(&entry.Owners, userID) {
		return nil
	}
	entry.RefCount = len(entry.Owners)

	if entry.RefCount == 0 {
		if err := r.store.DeleteFile(ctx, entry.FilePath); err != nil {
			logger.Error("删除封面文件失败", logger.String("hash", hash), logger.ErrorField(err))
		}
		delete(r.data.CoverArts, hash)
		delete(r.data.CoverArtIDs, entry.PrimaryID)
		for _, alias := range entry.Aliases {
			delete(r.data.CoverArtIDs, alias)
		}
		r.data.TotalBytes -= entry.Size
		logger.Info("封面条目引用归零，已回收",
			logger.String("hash", hash),
			logger.Int("aliases", len(entry.Aliases)))
	}
	r.persistLocked(ctx)
	return nil
}

// ResolveCoverArt 通过反向索引查找封面ID对应的哈希
func (r *Registry) ResolveCoverArt(coverArtID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.data.CoverArtIDs[coverArtID]
	return hash, ok
}

// CreateCoverArtAlias 将 newID 登记为 existingID 所指物理条目的别名
// 不重新抓取也不重新落盘图像字节；别名等价性由调用方断言，这里不做字节比对
func (r *Registry) CreateCoverArtAlias(ctx context.Context, newID, existingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.data.CoverArtIDs[existingID]
	if !ok {
		return ErrUnknownCoverArt
	}

	if mapped, ok := r.data.CoverArtIDs[newID]; ok {
		if mapped == hash {
			return nil
		}
		// 一个ID不允许同时出现在两个条目中
		return ErrAliasConflict
	}

	entry := r.data.CoverArts[hash]
	entry.Aliases = append(entry.Aliases, newID)
	r.data.CoverArtIDs[newID] = hash
	r.persistLocked(ctx)

	logger.Debug("创建封面别名",
		logger.String("newId", newID),
		logger.String("primaryId", entry.PrimaryID))
	return nil
}

// AudioEntry 查找音频条目
func (r *Registry) AudioEntry(hash string) (*model.AudioFileEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.AudioFiles[hash]
	return entry, ok
}

// CoverArtEntry 查找封面条目
func (r *Registry) CoverArtEntry(hash string) (*model.CoverArtFileEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.data.CoverArts[hash]
	return entry, ok
}

// Stats 返回条目数与去重后的总字节数
func (r *Registry) Stats() (audioCount, coverCount int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.data.AudioFiles), len(r.data.CoverArts), r.data.TotalBytes
}

// Dirty 返回是否存在尚未成功落盘的变更
func (r *Registry) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dirty
}

// FlushDirty 重试落盘此前失败的变更
func (r *Registry) FlushDirty(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}
	return r.saveLocked(ctx)
}

// persistLocked 每次变更后整体重写账本；失败时记录日志并置脏标记，不向调用方传播
func (r *Registry) persistLocked(ctx context.Context) {
	if err := r.saveLocked(ctx); err != nil {
		logger.Error("注册表落盘失败，内存状态继续生效", logger.ErrorField(err))
	}
}

func (r *Registry) saveLocked(ctx context.Context) error {
	r.data.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		r.dirty = true
		return fmt.Errorf("序列化注册表失败: %w", err)
	}
	if err := r.store.WriteLedger(ctx, registryLedger, raw); err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	return nil
}

// removeOwnerFrom 从所有者集合中移除用户，返回是否发生了移除
func removeOwnerFrom(owners *[]string, userID string) bool {
	for i, o := range *owners {
		if o == userID {
			*owners = append((*owners)[:i], (*owners)[i+1:]...)
			return true
		}
	}
	return false
}
