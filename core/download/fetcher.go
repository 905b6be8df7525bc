// Package download 实现串行下载管道
// 把专辑/歌曲下载请求逐项转化为缓存服务调用，带重试、暂停与进度事件
package download

import (
	"context"
	"io"
)

// Fetcher 远端抓取能力
// URL 构造与鉴权由协议客户端负责，管道只消费字节流
type Fetcher interface {
	// FetchSong 抓取歌曲音频流，返回流、内容长度（未知为 -1）与内容类型
	FetchSong(ctx context.Context, songID, quality string) (io.ReadCloser, int64, string, error)
	// FetchCoverArt 抓取封面图像流
	FetchCoverArt(ctx context.Context, coverArtID string) (io.ReadCloser, int64, string, error)
}
