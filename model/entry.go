package model

import "time"

// RegistryFormatVersion 共享对象注册表的账本格式版本
const RegistryFormatVersion = 1

// AudioFileEntry 表示注册表中的一个音频文件条目
// 约束：RefCount 必须始终等于 len(Owners)；RefCount 归零时物理文件被删除
type AudioFileEntry struct {
	Hash      string    `json:"hash"`
	FilePath  string    `json:"filePath"` // 相对存储路径
	Size      int64     `json:"size"`
	Quality   string    `json:"quality"`
	Format    string    `json:"format"` // 文件扩展名，如 mp3 / flac
	CreatedAt time.Time `json:"createdAt"`
	RefCount  int       `json:"refCount"`
	Owners    []string  `json:"owners"` // 引用该文件的用户标识集合
}

// CoverArtFileEntry 表示注册表中的一个封面文件条目
// PrimaryID 是首次创建该条目的封面ID，Aliases 是指向同一物理文件的其他封面ID
type CoverArtFileEntry struct {
	Hash      string    `json:"hash"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"size"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"createdAt"`
	RefCount  int       `json:"refCount"`
	Owners    []string  `json:"owners"`
	PrimaryID string    `json:"primaryId"`
	Aliases   []string  `json:"aliases"`
}

// RegistryFile 共享对象注册表的持久化结构
// 单实例被同一安装下的所有用户共享，每次变更整体重写
type RegistryFile struct {
	Version     int                           `json:"version"`
	AudioFiles  map[string]*AudioFileEntry    `json:"audioFiles"`  // hash -> entry
	CoverArts   map[string]*CoverArtFileEntry `json:"coverArts"`   // hash -> entry
	CoverArtIDs map[string]string             `json:"coverArtIds"` // coverArtId -> hash 反向索引
	TotalBytes  int64                         `json:"totalBytes"`
	UpdatedAt   time.Time                     `json:"updatedAt"`
}

// NewRegistryFile 创建空的注册表结构
func NewRegistryFile() *RegistryFile {
	return &RegistryFile{
		Version:     RegistryFormatVersion,
		AudioFiles:  make(map[string]*AudioFileEntry),
		CoverArts:   make(map[string]*CoverArtFileEntry),
		CoverArtIDs: make(map[string]string),
	}
}

// HasOwner 判断用户是否已引用该音频条目
func (e *AudioFileEntry) HasOwner(userID string) bool {
	for _, o := range e.Owners {
		if o == userID {
			return true
		}
	}
	return false
}

// HasOwner 判断用户是否已引用该封面条目
func (e *CoverArtFileEntry) HasOwner(userID string) bool {
	for _, o := range e.Owners {
		if o == userID {
			return true
		}
	}
	return false
}
