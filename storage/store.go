// Package storage 提供内容文件与账本的持久化能力
// 内容文件按哈希寻址、一次写入；账本整体读写
package storage

import "context"

// 内容文件的两个命名空间目录
const (
	AudioDir    = "audio"
	CoverArtDir = "covers"
)

// Store 是缓存子系统依赖的文件存储能力
// 每个调用都可能失败，调用方负责记录日志，不得吞掉错误后继续使用错误的内存状态
type Store interface {
	// SaveAudioFile 以哈希寻址方式写入音频文件，返回相对存储路径
	// 一次写入：同一哈希重复调用不会重写已有文件
	SaveAudioFile(ctx context.Context, hash string, data []byte, ext string) (string, error)
	// SaveCoverArtFile 以哈希寻址方式写入封面文件，返回相对存储路径
	SaveCoverArtFile(ctx context.Context, hash string, data []byte, ext string) (string, error)
	// DeleteFile 删除相对路径指向的内容文件
	DeleteFile(ctx context.Context, relPath string) error
	// FileExists 判断内容文件是否存在
	FileExists(ctx context.Context, relPath string) (bool, error)
	// ContentPath 返回内容文件的可访问路径（本地为绝对路径，对象存储为对象地址）
	ContentPath(relPath string) string

	// ReadLedger 读取整个账本，不存在时返回 (nil, nil)
	ReadLedger(ctx context.Context, name string) ([]byte, error)
	// WriteLedger 原子地整体重写账本：先写临时对象，完成后才替换旧内容
	WriteLedger(ctx context.Context, name string, data []byte) error
	// DeleteLedger 删除账本
	DeleteLedger(ctx context.Context, name string) error
}

// ContentTypeForExt 根据扩展名推断内容类型
func ContentTypeForExt(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "m4a", "aac":
		return "audio/mp4"
	case "opus":
		return "audio/opus"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// ExtForContentType 根据内容类型推断扩展名，未知类型回退到 mp3/jpg 之外的 bin
func ExtForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/ogg", "application/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/opus":
		return "opus"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}
