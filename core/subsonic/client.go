// Package subsonic 实现 Subsonic 协议客户端
// 负责鉴权参数与 URL 构造；缓存核心只通过 download.Fetcher 接口消费字节流
package subsonic

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BeanGreen247/xylonic-sub000/config"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
)

// Client Subsonic 协议客户端
type Client struct {
	BaseURL    string
	Username   string
	password   string
	ClientName string
	APIVersion string

	// 元数据请求使用有超时的客户端；音频流由调用方的 context 控制时限
	HTTPClient   *http.Client
	StreamClient *http.Client
}

// NewClient 根据配置创建协议客户端
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:      cfg.ServerURL,
		Username:     cfg.Username,
		password:     cfg.Password,
		ClientName:   cfg.ClientName,
		APIVersion:   cfg.APIVersion,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		StreamClient: &http.Client{},
	}
}

// authParams 构造协议要求的盐化 md5 令牌参数
func (c *Client) authParams() url.Values {
	saltBytes := make([]byte, 8)
	_, _ = rand.Read(saltBytes)
	salt := hex.EncodeToString(saltBytes)
	token := md5.Sum([]byte(c.password + salt))

	params := url.Values{}
	params.Set("u", c.Username)
	params.Set("t", hex.EncodeToString(token[:]))
	params.Set("s", salt)
	params.Set("v", c.APIVersion)
	params.Set("c", c.ClientName)
	params.Set("f", "json")
	return params
}

func (c *Client) endpoint(name string, params url.Values) string {
	return fmt.Sprintf("%s/rest/%s.view?%s", c.BaseURL, name, params.Encode())
}

// envelope Subsonic JSON 响应外壳
type envelope struct {
	SubsonicResponse struct {
		Status string `json:"status"`
		Error  struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Album  *albumDTO  `json:"album"`
		Artist *artistDTO `json:"artist"`
	} `json:"subsonic-response"`
}

type songDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	ArtistID string `json:"artistId"`
	Album    string `json:"album"`
	AlbumID  string `json:"albumId"`
	Duration int    `json:"duration"`
	CoverArt string `json:"coverArt"`
	Suffix   string `json:"suffix"`
}

type albumDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Artist    string    `json:"artist"`
	ArtistID  string    `json:"artistId"`
	CoverArt  string    `json:"coverArt"`
	SongCount int       `json:"songCount"`
	Songs     []songDTO `json:"song"`
}

type artistDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CoverArt string `json:"coverArt"`
}

// call 发起元数据请求并解析响应外壳
func (c *Client) call(ctx context.Context, name string, extra url.Values) (*envelope, error) {
	params := c.authParams()
	for key, values := range extra {
		for _, v := range values {
			params.Add(key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(name, params), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}

	var result envelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if result.SubsonicResponse.Status != "ok" {
		return nil, fmt.Errorf("API返回错误: %s (code: %d)",
			result.SubsonicResponse.Error.Message, result.SubsonicResponse.Error.Code)
	}
	return &result, nil
}

// Ping 探测服务器连通性与凭据有效性
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// GetAlbum 获取专辑详情与曲目列表
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*model.RemoteAlbum, error) {
	logger.Debug("获取专辑详情", logger.String("albumId", albumID))

	params := url.Values{}
	params.Set("id", albumID)
	result, err := c.call(ctx, "getAlbum", params)
	if err != nil {
		return nil, err
	}
	dto := result.SubsonicResponse.Album
	if dto == nil {
		return nil, fmt.Errorf("未找到专辑: %s", albumID)
	}

	album := &model.RemoteAlbum{
		ID:         dto.ID,
		Name:       dto.Name,
		Artist:     dto.Artist,
		ArtistID:   dto.ArtistID,
		CoverArtID: dto.CoverArt,
		SongCount:  dto.SongCount,
		Songs:      make([]model.RemoteSong, len(dto.Songs)),
	}
	for i, song := range dto.Songs {
		album.Songs[i] = model.RemoteSong{
			ID:         song.ID,
			Title:      song.Title,
			Artist:     song.Artist,
			ArtistID:   song.ArtistID,
			Album:      song.Album,
			AlbumID:    song.AlbumID,
			Duration:   song.Duration,
			CoverArtID: song.CoverArt,
			Suffix:     song.Suffix,
		}
	}
	return album, nil
}

// GetArtistCoverArt 获取艺术家级封面ID，没有则返回空串
func (c *Client) GetArtistCoverArt(ctx context.Context, artistID string) (string, error) {
	params := url.Values{}
	params.Set("id", artistID)
	result, err := c.call(ctx, "getArtist", params)
	if err != nil {
		return "", err
	}
	if result.SubsonicResponse.Artist == nil {
		return "", nil
	}
	return result.SubsonicResponse.Artist.CoverArt, nil
}

// maxBitRateFor 把音质档位映射为协议的码率参数，lossless 不限制码率
func maxBitRateFor(quality string) string {
	switch quality {
	case "low":
		return "128"
	case "high":
		return "320"
	default:
		return ""
	}
}

// FetchSong 抓取歌曲音频流，实现 download.Fetcher
func (c *Client) FetchSong(ctx context.Context, songID, quality string) (io.ReadCloser, int64, string, error) {
	params := c.authParams()
	params.Set("id", songID)
	if rate := maxBitRateFor(quality); rate != "" {
		params.Set("maxBitRate", rate)
	}

	return c.fetchStream(ctx, c.endpoint("stream", params))
}

// FetchCoverArt 抓取封面图像流，实现 download.Fetcher
func (c *Client) FetchCoverArt(ctx context.Context, coverArtID string) (io.ReadCloser, int64, string, error) {
	params := c.authParams()
	params.Set("id", coverArtID)

	return c.fetchStream(ctx, c.endpoint("getCoverArt", params))
}

func (c *Client) fetchStream(ctx context.Context, rawURL string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, "", fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"), nil
}
