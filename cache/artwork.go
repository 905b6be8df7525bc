package cache

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/BeanGreen247/xylonic-sub000/logger"
)

var bucketArtwork = []byte("artwork")

// ArtworkStore 封面预览的嵌入式缓存，供界面快速取图
// 与注册表中的权威封面文件无关，删除数据库文件后可随时重建
type ArtworkStore struct {
	db *bolt.DB
}

// OpenArtworkStore 打开封面预览缓存数据库
func OpenArtworkStore(baseDir string) (*ArtworkStore, error) {
	dbPath := filepath.Join(baseDir, "artwork.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArtwork)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &ArtworkStore{db: db}, nil
}

// Put 写入封面预览字节
func (s *ArtworkStore) Put(coverArtID string, data []byte) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtwork).Put([]byte(coverArtID), data)
	})
	if err != nil {
		logger.Warn("写入封面预览缓存失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
	}
}

// Get 读取封面预览字节，未命中返回 (nil, false)
func (s *ArtworkStore) Get(coverArtID string) ([]byte, bool) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketArtwork).Get([]byte(coverArtID))
		if raw != nil {
			data = make([]byte, len(raw))
			copy(data, raw)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false
	}
	return data, true
}

// Close 关闭数据库
func (s *ArtworkStore) Close() error {
	return s.db.Close()
}
