package model

import "time"

// DownloadStatus 下载队列项状态
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
)

// SongDescriptor 待下载歌曲的描述信息
type SongDescriptor struct {
	SongID     string `json:"songId"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	AlbumID    string `json:"albumId"`
	ArtistID   string `json:"artistId,omitempty"`
	Duration   int    `json:"duration"`
	CoverArtID string `json:"coverArtId,omitempty"`
}

// AlbumDownloadRequest 一次专辑下载请求，入队时展开为 N 个队列项
type AlbumDownloadRequest struct {
	AlbumID          string           `json:"albumId"`
	AlbumName        string           `json:"albumName"`
	Artist           string           `json:"artist"`
	ArtistID         string           `json:"artistId,omitempty"`
	ArtistCoverArtID string           `json:"artistCoverArtId,omitempty"`
	Quality          string           `json:"quality"`
	Songs            []SongDescriptor `json:"songs"`
}

// DownloadQueueItem 下载队列中的一项，对应一首歌曲
// 仅存在于进程内存中，进程重启后队列重建为空
type DownloadQueueItem struct {
	ID               string         `json:"id"`
	Song             SongDescriptor `json:"song"`
	AlbumID          string         `json:"albumId"`
	AlbumName        string         `json:"albumName"`
	Artist           string         `json:"artist"`
	ArtistID         string         `json:"artistId,omitempty"`
	ArtistCoverArtID string         `json:"artistCoverArtId,omitempty"`
	Quality          string         `json:"quality"`
	Status           DownloadStatus `json:"status"`
	Progress         float64        `json:"progress"` // 0-100
	Error            string         `json:"error,omitempty"`
	RetryCount       int            `json:"retryCount"`
	QueuedAt         time.Time      `json:"queuedAt"`
	StartedAt        time.Time      `json:"startedAt,omitempty"`
	CompletedAt      time.Time      `json:"completedAt,omitempty"`
}

// DownloadProgress 管道进度快照，随每个事件完整推送给订阅者
type DownloadProgress struct {
	Total       int                 `json:"total"`
	Completed   int                 `json:"completed"`
	Failed      int                 `json:"failed"`
	Pending     int                 `json:"pending"`
	Current     *DownloadQueueItem  `json:"current,omitempty"`
	Percent     float64             `json:"percent"`
	Paused      bool                `json:"paused"`
	Downloading bool                `json:"downloading"`
	Items       []DownloadQueueItem `json:"items"`
}

// RemoteSong 远端服务器返回的歌曲信息
type RemoteSong struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtistID   string `json:"artistId"`
	Album      string `json:"album"`
	AlbumID    string `json:"albumId"`
	Duration   int    `json:"duration"`
	CoverArtID string `json:"coverArt"`
	Suffix     string `json:"suffix"`
}

// RemoteAlbum 远端服务器返回的专辑信息
type RemoteAlbum struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Artist     string       `json:"artist"`
	ArtistID   string       `json:"artistId"`
	CoverArtID string       `json:"coverArt"`
	SongCount  int          `json:"songCount"`
	Songs      []RemoteSong `json:"songs"`
}
