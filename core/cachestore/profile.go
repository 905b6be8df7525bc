package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BeanGreen247/xylonic-sub000/core/hashid"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// 下载历史最多保留的条数，超出后丢弃最旧记录
const maxHistoryEntries = 500

// ProfileStore 用户画像存储
// 与缓存索引解耦：清空缓存后仍然保留，仅在移除账户时销毁
type ProfileStore struct {
	mu     sync.Mutex
	store  storage.Store
	ledger string
	data   *model.UserProfile
	dirty  bool
}

// OpenProfileStore 加载用户画像，首次使用时创建
func OpenProfileStore(ctx context.Context, store storage.Store, userID, serverURL string) (*ProfileStore, error) {
	ledger := "profile_" + hashid.UserKey(serverURL, userID)

	raw, err := store.ReadLedger(ctx, ledger)
	if err != nil {
		return nil, fmt.Errorf("加载用户画像失败: %w", err)
	}

	data := model.NewUserProfile(userID)
	if raw != nil {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("解析用户画像失败: %w", err)
		}
		if data.Preferences == nil {
			data.Preferences = make(map[string]string)
		}
	}

	return &ProfileStore{store: store, ledger: ledger, data: data}, nil
}

// ToggleLikedSong 切换歌曲的喜欢状态，返回切换后是否为喜欢
func (p *ProfileStore) ToggleLikedSong(ctx context.Context, songID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, id := range p.data.LikedSongs {
		if id == songID {
			p.data.LikedSongs = append(p.data.LikedSongs[:i], p.data.LikedSongs[i+1:]...)
			p.persist(ctx)
			return false
		}
	}
	p.data.LikedSongs = append(p.data.LikedSongs, songID)
	p.persist(ctx)
	return true
}

// IsLiked 判断歌曲是否被喜欢
func (p *ProfileStore) IsLiked(songID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.data.LikedSongs {
		if id == songID {
			return true
		}
	}
	return false
}

// LikedSongs 返回喜欢列表副本
func (p *ProfileStore) LikedSongs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.data.LikedSongs))
	copy(out, p.data.LikedSongs)
	return out
}

// AddDownloadHistory 追加一条下载历史，超出上限时截断最旧记录
func (p *ProfileStore) AddDownloadHistory(ctx context.Context, entry model.DownloadHistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data.History = append(p.data.History, entry)
	if len(p.data.History) > maxHistoryEntries {
		p.data.History = p.data.History[len(p.data.History)-maxHistoryEntries:]
	}
	p.persist(ctx)
}

// History 返回下载历史副本
func (p *ProfileStore) History() []model.DownloadHistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.DownloadHistoryEntry, len(p.data.History))
	copy(out, p.data.History)
	return out
}

// SetPreference 设置偏好项
func (p *ProfileStore) SetPreference(ctx context.Context, key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data.Preferences[key] = value
	p.persist(ctx)
}

// Preference 读取偏好项
func (p *ProfileStore) Preference(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.data.Preferences[key]
	return v, ok
}

// Delete 删除画像账本，仅在移除账户时使用
func (p *ProfileStore) Delete(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store.DeleteLedger(ctx, p.ledger)
}

// FlushDirty 重试落盘此前失败的变更
func (p *ProfileStore) FlushDirty(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dirty {
		return nil
	}
	return p.saveLocked(ctx)
}

func (p *ProfileStore) persist(ctx context.Context) {
	if err := p.saveLocked(ctx); err != nil {
		logger.Error("用户画像落盘失败，内存状态继续生效",
			logger.String("userId", p.data.UserID),
			logger.ErrorField(err))
	}
}

func (p *ProfileStore) saveLocked(ctx context.Context) error {
	p.data.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.dirty = true
		return fmt.Errorf("序列化用户画像失败: %w", err)
	}
	if err := p.store.WriteLedger(ctx, p.ledger, raw); err != nil {
		p.dirty = true
		return err
	}
	p.dirty = false
	return nil
}
