package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BeanGreen247/xylonic-sub000/core/cachestore"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// Config 管道配置
type Config struct {
	MaxRetries     int           // 单项最大重试次数
	AutoClearDelay time.Duration // 已完成项的自动清理延迟，0 表示不清理
	Timeout        time.Duration // 单项下载整体超时，0 表示不限制
}

// Pipeline 串行下载管道
// 任意时刻至多一项处于 downloading 状态；串行化换取确定的顺序与简单的重试/取消模型
// 队列只存在于进程内存，重启后重建为空
type Pipeline struct {
	mu  sync.Mutex
	cfg Config

	svc     *cachestore.CacheService
	fetcher Fetcher

	queue    []*model.DownloadQueueItem
	paused   bool
	draining bool
	current  *model.DownloadQueueItem

	// 本次运行内各专辑/艺术家已缓存的封面ID，后续不同ID走别名不重新抓取
	albumArt  map[string]string
	artistArt map[string]string

	subscribers map[int]chan Event
	nextSubID   int
}

// NewPipeline 创建下载管道
func NewPipeline(svc *cachestore.CacheService, fetcher Fetcher, cfg Config) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Pipeline{
		cfg:         cfg,
		svc:         svc,
		fetcher:     fetcher,
		albumArt:    make(map[string]string),
		artistArt:   make(map[string]string),
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe 订阅管道事件，返回事件通道与取消函数
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 32)
	p.subscribers[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
}

// AddAlbumToQueue 把一次专辑请求展开为逐曲队列项并追加到队尾
// 管道空闲且未暂停时触发排空
func (p *Pipeline) AddAlbumToQueue(req model.AlbumDownloadRequest) []string {
	p.mu.Lock()

	ids := make([]string, 0, len(req.Songs))
	for _, song := range req.Songs {
		item := &model.DownloadQueueItem{
			ID:               uuid.NewString(),
			Song:             song,
			AlbumID:          req.AlbumID,
			AlbumName:        req.AlbumName,
			Artist:           req.Artist,
			ArtistID:         req.ArtistID,
			ArtistCoverArtID: req.ArtistCoverArtID,
			Quality:          req.Quality,
			Status:           model.StatusPending,
			QueuedAt:         time.Now(),
		}
		p.queue = append(p.queue, item)
		ids = append(ids, item.ID)
	}
	p.emitLocked(EventQueueUpdated, nil)
	p.mu.Unlock()

	logger.Info("专辑加入下载队列",
		logger.String("albumId", req.AlbumID),
		logger.String("album", req.AlbumName),
		logger.Int("songs", len(req.Songs)))

	p.maybeDrain()
	return ids
}

// Pause 暂停管道：不再拾取下一项，正在下载的项运行至完成或失败
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return
	}
	p.paused = true
	p.emitLocked(EventQueuePaused, nil)
	logger.Info("下载队列已暂停")
}

// Resume 恢复管道并触发排空
func (p *Pipeline) Resume() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = false
	p.emitLocked(EventQueueResumed, nil)
	p.mu.Unlock()

	logger.Info("下载队列已恢复")
	p.maybeDrain()
}

// ClearQueue 丢弃所有非活跃项；正在下载的项不中断，完成后在空队列上被丢弃
func (p *Pipeline) ClearQueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.queue[:0]
	dropped := 0
	for _, item := range p.queue {
		if item.Status == model.StatusDownloading {
			kept = append(kept, item)
		} else {
			dropped++
		}
	}
	p.queue = kept
	p.emitLocked(EventQueueUpdated, nil)
	logger.Info("下载队列已清空", logger.Int("dropped", dropped))
	return dropped
}

// RetryFailed 把所有永久失败的项重置为待下载，保持原有位置不移动到队尾
func (p *Pipeline) RetryFailed() int {
	p.mu.Lock()
	retried := 0
	for _, item := range p.queue {
		if item.Status == model.StatusFailed {
			item.Status = model.StatusPending
			item.RetryCount = 0
			item.Error = ""
			retried++
		}
	}
	if retried > 0 {
		p.emitLocked(EventQueueUpdated, nil)
	}
	p.mu.Unlock()

	if retried > 0 {
		p.maybeDrain()
	}
	return retried
}

// Snapshot 返回当前进度快照
func (p *Pipeline) Snapshot() model.DownloadProgress {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshotLocked()
}

// maybeDrain 管道空闲且未暂停时启动排空协程
func (p *Pipeline) maybeDrain() {
	p.mu.Lock()
	if p.draining || p.paused {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	go p.drain()
}

// drain 严格串行排空队列：始终拾取最靠前的待下载项
// 失败项在原位重置为待下载，因此重试紧跟在失败之后、不让位给后续项
func (p *Pipeline) drain() {
	for {
		p.mu.Lock()
		if p.paused {
			p.draining = false
			p.mu.Unlock()
			return
		}

		var item *model.DownloadQueueItem
		for _, candidate := range p.queue {
			if candidate.Status == model.StatusPending {
				item = candidate
				break
			}
		}
		if item == nil {
			p.draining = false
			p.mu.Unlock()
			return
		}

		item.Status = model.StatusDownloading
		item.StartedAt = time.Now()
		item.Error = ""
		p.current = item
		p.emitLocked(EventDownloadStarted, item)
		p.mu.Unlock()

		err := p.processItem(item)

		p.mu.Lock()
		p.current = nil
		if err != nil {
			item.RetryCount++
			item.Error = err.Error()
			if item.RetryCount < p.cfg.MaxRetries {
				// 未达上限：原位重试
				item.Status = model.StatusPending
				logger.Warn("下载失败，准备重试",
					logger.String("songId", item.Song.SongID),
					logger.Int("retryCount", item.RetryCount),
					logger.ErrorField(err))
			} else {
				item.Status = model.StatusFailed
				item.CompletedAt = time.Now()
				logger.Error("下载失败，已达最大重试次数",
					logger.String("songId", item.Song.SongID),
					logger.Int("retryCount", item.RetryCount),
					logger.ErrorField(err))
			}
			p.emitLocked(EventDownloadFailed, item)
		} else {
			item.Status = model.StatusCompleted
			item.Progress = 100
			item.CompletedAt = time.Now()
			p.emitLocked(EventDownloadCompleted, item)
			p.emitLocked(EventCacheUpdated, item)
			p.scheduleAutoClearLocked(item)
		}
		p.mu.Unlock()
	}
}

// processItem 处理单个队列项：抓取音频、写入缓存、机会性缓存封面
func (p *Pipeline) processItem(item *model.DownloadQueueItem) error {
	ctx := context.Background()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	songID := item.Song.SongID

	// 重复请求消除：歌曲已在用户缓存中时完全跳过网络抓取
	if p.svc.IsCached(songID) {
		logger.Info("歌曲已缓存，跳过下载", logger.String("songId", songID))
		p.setProgress(item, 100)
		return nil
	}

	stream, total, contentType, err := p.fetcher.FetchSong(ctx, songID, item.Quality)
	if err != nil {
		return fmt.Errorf("抓取音频流失败: %w", err)
	}
	defer stream.Close()

	audioBytes, err := p.readStream(ctx, item, stream, total)
	if err != nil {
		return fmt.Errorf("读取音频流失败: %w", err)
	}

	ext := storage.ExtForContentType(contentType)
	if ext == "bin" {
		ext = "mp3"
	}

	if err := p.svc.AddToCache(ctx, item.Song, item.Quality, audioBytes, ext); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}

	// 封面缓存是机会性的，失败只记录不影响歌曲本身
	p.ensureCoverArt(ctx, item)
	return nil
}

// readStream 增量读取流并更新进度
func (p *Pipeline) readStream(ctx context.Context, item *model.DownloadQueueItem, stream io.Reader, total int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	var received int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := stream.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if total > 0 {
				p.setProgress(item, float64(received)*100/float64(total))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// setProgress 更新进度，跨过 5% 档位时推送进度事件
func (p *Pipeline) setProgress(item *model.DownloadQueueItem, progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevBucket := int(item.Progress / 5)
	item.Progress = progress
	if int(progress/5) != prevBucket {
		p.emitLocked(EventDownloadProgress, item)
	}
}

// ensureCoverArt 专辑封面每张专辑只抓取一次
// 同专辑后续曲目携带的不同封面ID登记为别名，不重新抓取（假定同专辑共享同一封面）
func (p *Pipeline) ensureCoverArt(ctx context.Context, item *model.DownloadQueueItem) {
	songID := item.Song.SongID

	coverHash := p.cacheArtOnce(ctx, item.Song.CoverArtID, item.AlbumID, p.albumArt, p.fetcher.FetchCoverArt)
	if item.ArtistCoverArtID != "" && item.ArtistID != "" {
		p.cacheArtOnce(ctx, item.ArtistCoverArtID, item.ArtistID, p.artistArt, p.fetcher.FetchCoverArt)
	}

	if coverHash != "" || item.ArtistCoverArtID != "" {
		p.svc.AttachCoverArt(ctx, songID, item.Song.CoverArtID, coverHash, item.ArtistCoverArtID)
	}
}

// cacheArtOnce 封面去重核心：已解析 → 补引用；组内已有主ID → 别名；否则抓取并登记为主ID
func (p *Pipeline) cacheArtOnce(ctx context.Context, coverArtID, groupID string, group map[string]string, fetch func(context.Context, string) (io.ReadCloser, int64, string, error)) string {
	if coverArtID == "" || groupID == "" {
		return ""
	}

	if hash, ok := p.svc.ReferenceCoverArt(ctx, coverArtID); ok {
		p.rememberArt(group, groupID, coverArtID)
		return hash
	}

	p.mu.Lock()
	primary, hasPrimary := group[groupID]
	p.mu.Unlock()

	if hasPrimary && primary != coverArtID {
		hash, err := p.svc.AliasCoverArt(ctx, coverArtID, primary)
		if err != nil {
			logger.Warn("创建封面别名失败",
				logger.String("coverArtId", coverArtID),
				logger.String("primaryId", primary),
				logger.ErrorField(err))
			return ""
		}
		return hash
	}

	stream, _, contentType, err := fetch(ctx, coverArtID)
	if err != nil {
		logger.Warn("抓取封面失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
		return ""
	}
	defer stream.Close()

	imageBytes, err := io.ReadAll(stream)
	if err != nil {
		logger.Warn("读取封面流失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
		return ""
	}

	ext := storage.ExtForContentType(contentType)
	if ext == "bin" {
		ext = "jpg"
	}

	hash, err := p.svc.CacheCoverArt(ctx, coverArtID, imageBytes, ext)
	if err != nil {
		logger.Warn("缓存封面失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
		return ""
	}
	p.rememberArt(group, groupID, coverArtID)
	return hash
}

func (p *Pipeline) rememberArt(group map[string]string, groupID, coverArtID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := group[groupID]; !ok {
		group[groupID] = coverArtID
	}
}

// scheduleAutoClearLocked 完成项在固定延迟后自动移出可见队列，期间状态变化则放弃清理
func (p *Pipeline) scheduleAutoClearLocked(item *model.DownloadQueueItem) {
	if p.cfg.AutoClearDelay <= 0 {
		return
	}

	itemID := item.ID
	completedAt := item.CompletedAt
	time.AfterFunc(p.cfg.AutoClearDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		for i, queued := range p.queue {
			if queued.ID != itemID {
				continue
			}
			if queued.Status == model.StatusCompleted && queued.CompletedAt.Equal(completedAt) {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				p.emitLocked(EventQueueUpdated, nil)
			}
			return
		}
	})
}

// snapshotLocked 构建完整进度快照，调用方必须持有锁
func (p *Pipeline) snapshotLocked() model.DownloadProgress {
	snap := model.DownloadProgress{
		Paused: p.paused,
		Items:  make([]model.DownloadQueueItem, 0, len(p.queue)),
	}
	for _, item := range p.queue {
		snap.Total++
		switch item.Status {
		case model.StatusCompleted:
			snap.Completed++
		case model.StatusFailed:
			snap.Failed++
		case model.StatusPending:
			snap.Pending++
		case model.StatusDownloading:
			snap.Downloading = true
			itemCopy := *item
			snap.Current = &itemCopy
		}
		snap.Items = append(snap.Items, *item)
	}
	if snap.Total > 0 {
		snap.Percent = float64(snap.Completed) * 100 / float64(snap.Total)
	}
	return snap
}

// emitLocked 向所有订阅者非阻塞推送事件，慢订阅者丢弃事件而不是阻塞管道
func (p *Pipeline) emitLocked(eventType EventType, item *model.DownloadQueueItem) {
	event := Event{Type: eventType, Snapshot: p.snapshotLocked()}
	if item != nil {
		itemCopy := *item
		event.Item = &itemCopy
	}
	for _, sub := range p.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
