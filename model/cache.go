package model

import "time"

// UserIndexFormatVersion 用户缓存索引的账本格式版本
const UserIndexFormatVersion = 1

// CachedSongMeta 用户缓存索引中一首歌曲的元数据
type CachedSongMeta struct {
	SongID           string    `json:"songId"`
	Title            string    `json:"title"`
	Artist           string    `json:"artist"`
	Album            string    `json:"album"`
	AlbumID          string    `json:"albumId"`
	ArtistID         string    `json:"artistId,omitempty"`
	Duration         int       `json:"duration"` // 时长（秒）
	Quality          string    `json:"quality"`
	AudioHash        string    `json:"audioHash"` // 指向注册表音频条目
	Size             int64     `json:"size"`      // 冗余存储，便于快速统计
	CachedAt         time.Time `json:"cachedAt"`
	LastAccessed     time.Time `json:"lastAccessed"`
	CoverArtID       string    `json:"coverArtId,omitempty"`
	CoverArtHash     string    `json:"coverArtHash,omitempty"`
	ArtistCoverArtID string    `json:"artistCoverArtId,omitempty"`
}

// UserIndexFile 单个（用户，服务器）身份的缓存索引
// TotalBytes 是该用户名下的归属字节数，不与其他用户去重
type UserIndexFile struct {
	Version    int                        `json:"version"`
	UserID     string                     `json:"userId"`
	Username   string                     `json:"username"`
	ServerURL  string                     `json:"serverUrl"`
	Songs      map[string]*CachedSongMeta `json:"songs"` // songId -> meta
	TotalBytes int64                      `json:"totalBytes"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
}

// NewUserIndexFile 创建空的用户缓存索引
func NewUserIndexFile(userID, username, serverURL string) *UserIndexFile {
	return &UserIndexFile{
		Version:   UserIndexFormatVersion,
		UserID:    userID,
		Username:  username,
		ServerURL: serverURL,
		Songs:     make(map[string]*CachedSongMeta),
	}
}

// AlbumCacheSummary 按专辑聚合的缓存统计，读取时派生，不落盘
type AlbumCacheSummary struct {
	AlbumID    string `json:"albumId"`
	Album      string `json:"album"`
	Artist     string `json:"artist"`
	SongCount  int    `json:"songCount"`
	TotalBytes int64  `json:"totalBytes"`
}

// DownloadHistoryEntry 用户下载历史的一条记录
type DownloadHistoryEntry struct {
	SongID       string    `json:"songId"`
	Title        string    `json:"title"`
	Album        string    `json:"album"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// UserProfile 用户画像，生命周期独立于缓存索引
// 清空缓存后仍然保留，仅在移除账户时销毁
type UserProfile struct {
	UserID      string                 `json:"userId"`
	LikedSongs  []string               `json:"likedSongs"`
	History     []DownloadHistoryEntry `json:"history"`
	Preferences map[string]string      `json:"preferences"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// NewUserProfile 创建空的用户画像
func NewUserProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:      userID,
		Preferences: make(map[string]string),
	}
}

// CacheStats 缓存服务对外暴露的统计信息
type CacheStats struct {
	SongCount       int   `json:"songCount"`
	AttributedBytes int64 `json:"attributedBytes"` // 该用户的归属字节数
	SharedAudio     int   `json:"sharedAudio"`     // 注册表中的音频条目数
	SharedCoverArt  int   `json:"sharedCoverArt"`  // 注册表中的封面条目数
	SharedBytes     int64 `json:"sharedBytes"`     // 注册表中去重后的总字节数
}

// VerifyReport 缓存校验结果
// 缺失项仅报告不自动修复，重新下载需要重新入队
type VerifyReport struct {
	Verified        int      `json:"verified"`
	MissingEntries  int      `json:"missingEntries"`  // 索引引用的注册表条目缺失
	MissingFiles    int      `json:"missingFiles"`    // 注册表条目对应的物理文件缺失
	MissingSamples  []string `json:"missingSamples"`  // 缺失歌曲ID样本
	AttributedBytes int64    `json:"attributedBytes"` // 重算后的归属字节数
}
