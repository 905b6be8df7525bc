package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BeanGreen247/xylonic-sub000/logger"
)

const ledgerDir = "ledgers"

// LocalStore 基于本地文件系统的存储实现，默认后端
type LocalStore struct {
	baseDir string
}

// NewLocalStore 创建本地存储，确保目录结构存在
func NewLocalStore(baseDir string) (*LocalStore, error) {
	for _, sub := range []string{AudioDir, CoverArtDir, ledgerDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("创建缓存目录失败: %w", err)
		}
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// BaseDir 返回缓存根目录
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// SaveAudioFile 写入音频文件，已存在时直接返回路径
func (s *LocalStore) SaveAudioFile(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	return s.saveContent(AudioDir, hash, data, ext)
}

// SaveCoverArtFile 写入封面文件，已存在时直接返回路径
func (s *LocalStore) SaveCoverArtFile(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	return s.saveContent(CoverArtDir, hash, data, ext)
}

func (s *LocalStore) saveContent(dir, hash string, data []byte, ext string) (string, error) {
	relPath := filepath.Join(dir, hash+"."+ext)
	absPath := filepath.Join(s.baseDir, relPath)

	// 一次写入：同一哈希不重复落盘
	if _, err := os.Stat(absPath); err == nil {
		logger.Debug("内容文件已存在，跳过写入", logger.String("path", relPath))
		return relPath, nil
	}

	if err := writeFileAtomic(absPath, data); err != nil {
		return "", fmt.Errorf("写入内容文件失败: %w", err)
	}
	return relPath, nil
}

// DeleteFile 删除内容文件，文件不存在不视为错误
func (s *LocalStore) DeleteFile(ctx context.Context, relPath string) error {
	err := os.Remove(filepath.Join(s.baseDir, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除内容文件失败: %w", err)
	}
	return nil
}

// FileExists 判断内容文件是否存在
func (s *LocalStore) FileExists(ctx context.Context, relPath string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, relPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ContentPath 返回内容文件的绝对路径
func (s *LocalStore) ContentPath(relPath string) string {
	return filepath.Join(s.baseDir, relPath)
}

// ReadLedger 读取账本，不存在时返回 (nil, nil)
func (s *LocalStore) ReadLedger(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.ledgerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取账本失败: %w", err)
	}
	return data, nil
}

// WriteLedger 原子地整体重写账本
func (s *LocalStore) WriteLedger(ctx context.Context, name string, data []byte) error {
	if err := writeFileAtomic(s.ledgerPath(name), data); err != nil {
		return fmt.Errorf("写入账本失败: %w", err)
	}
	return nil
}

// DeleteLedger 删除账本
func (s *LocalStore) DeleteLedger(ctx context.Context, name string) error {
	err := os.Remove(s.ledgerPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除账本失败: %w", err)
	}
	return nil
}

func (s *LocalStore) ledgerPath(name string) string {
	return filepath.Join(s.baseDir, ledgerDir, name+".json")
}

// writeFileAtomic 先写同目录临时文件再重命名，旧内容只会被完整写好的新内容替换
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
