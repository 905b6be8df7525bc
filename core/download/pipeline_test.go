package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeanGreen247/xylonic-sub000/core/cachestore"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

const testServerURL = "https://music.example.com"

// fakeFetcher 进程内的假抓取器，按歌曲ID记录抓取顺序并支持注入失败
type fakeFetcher struct {
	mu         sync.Mutex
	failures   map[string]int // songID -> 剩余失败次数
	songCalls  []string
	coverCalls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{failures: make(map[string]int)}
}

func (f *fakeFetcher) FetchSong(ctx context.Context, songID, quality string) (io.ReadCloser, int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.songCalls = append(f.songCalls, songID)
	if n := f.failures[songID]; n > 0 {
		f.failures[songID] = n - 1
		return nil, 0, "", errors.New("模拟抓取失败")
	}
	data := []byte("audio-" + songID)
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), "audio/mpeg", nil
}

func (f *fakeFetcher) FetchCoverArt(ctx context.Context, coverArtID string) (io.ReadCloser, int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.coverCalls = append(f.coverCalls, coverArtID)
	data := []byte("cover-" + coverArtID)
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), "image/jpeg", nil
}

func (f *fakeFetcher) songOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.songCalls))
	copy(out, f.songCalls)
	return out
}

func (f *fakeFetcher) coverFetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.coverCalls)
}

func newTestService(t *testing.T) *cachestore.CacheService {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	registry, err := cachestore.OpenRegistry(ctx, store)
	require.NoError(t, err)
	index, err := cachestore.OpenUserIndex(ctx, store, "alice", "alice", testServerURL)
	require.NoError(t, err)
	profile, err := cachestore.OpenProfileStore(ctx, store, "alice", testServerURL)
	require.NoError(t, err)
	return cachestore.NewCacheService("alice", "alice", testServerURL, registry, index, profile, store)
}

func albumRequest(albumID string, coverIDs map[string]string, songIDs ...string) model.AlbumDownloadRequest {
	songs := make([]model.SongDescriptor, len(songIDs))
	for i, id := range songIDs {
		songs[i] = model.SongDescriptor{
			SongID:     id,
			Title:      "Song " + id,
			Artist:     "Artist " + albumID,
			ArtistID:   "artist-" + albumID,
			Album:      "Album " + albumID,
			AlbumID:    albumID,
			Duration:   180,
			CoverArtID: coverIDs[id],
		}
	}
	return model.AlbumDownloadRequest{
		AlbumID:   albumID,
		AlbumName: "Album " + albumID,
		Artist:    "Artist " + albumID,
		ArtistID:  "artist-" + albumID,
		Quality:   "high",
		Songs:     songs,
	}
}

// waitIdle 轮询快照直到队列排空
func waitIdle(t *testing.T, p *Pipeline) model.DownloadProgress {
	t.Helper()
	var snap model.DownloadProgress
	require.Eventually(t, func() bool {
		snap = p.Snapshot()
		return snap.Pending == 0 && !snap.Downloading
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestQueueDrainsSequentially(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2", "a3"))
	snap := waitIdle(t, p)

	assert.Equal(t, 3, snap.Completed)
	assert.Zero(t, snap.Failed)
	assert.Equal(t, []string{"a1", "a2", "a3"}, fetcher.songOrder())
	for _, id := range []string{"a1", "a2", "a3"} {
		assert.True(t, svc.IsCached(id))
	}
}

func TestRetryKeepsQueuePosition(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	// a2 失败两次后成功；重试必须紧跟在失败之后，不让位给 a3 或专辑B
	fetcher.failures["a2"] = 2
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2", "a3"))
	p.AddAlbumToQueue(albumRequest("al2", nil, "b1", "b2"))
	snap := waitIdle(t, p)

	assert.Equal(t, 5, snap.Completed)
	assert.Zero(t, snap.Failed)
	assert.Equal(t, []string{"a1", "a2", "a2", "a2", "a3", "b1", "b2"}, fetcher.songOrder())
}

func TestPermanentFailureAfterMaxRetries(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	fetcher.failures["a2"] = 100
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 2})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2", "a3"))
	snap := waitIdle(t, p)

	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	// 失败项不阻塞后续项
	assert.True(t, svc.IsCached("a3"))
	assert.False(t, svc.IsCached("a2"))
	assert.Equal(t, []string{"a1", "a2", "a2", "a3"}, fetcher.songOrder())
}

func TestRetryFailedResets(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	fetcher.failures["a1"] = 2
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 2})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1"))
	snap := waitIdle(t, p)
	require.Equal(t, 1, snap.Failed)

	// 注入的失败已耗尽，人工重试应当成功
	assert.Equal(t, 1, p.RetryFailed())
	snap = waitIdle(t, p)
	assert.Equal(t, 1, snap.Completed)
	assert.Zero(t, snap.Failed)
	assert.True(t, svc.IsCached("a1"))
}

func TestDuplicateRequestElided(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.AddToCache(ctx, model.SongDescriptor{
		SongID: "a1", Title: "Song a1", Album: "Album al1", AlbumID: "al1",
	}, "high", []byte("audio-a1"), "mp3"))

	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2"))
	snap := waitIdle(t, p)

	// 已缓存的歌曲按完成处理但不触达网络
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, []string{"a2"}, fetcher.songOrder())
}

func TestAlbumCoverFetchedOnce(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	// 同一专辑每首歌携带不同的封面ID，只允许第一次真正抓取
	covers := map[string]string{"a1": "c1", "a2": "c2", "a3": "c3"}
	p.AddAlbumToQueue(albumRequest("al1", covers, "a1", "a2", "a3"))
	waitIdle(t, p)

	assert.Equal(t, 1, fetcher.coverFetchCount())

	// 所有封面ID解析到同一物理条目
	h1, ok := svc.ResolveCoverArt("c1")
	require.True(t, ok)
	h2, ok := svc.ResolveCoverArt("c2")
	require.True(t, ok)
	h3, ok := svc.ResolveCoverArt("c3")
	require.True(t, ok)
	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}

func TestCoverReusedAcrossRuns(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()

	covers := map[string]string{"a1": "c1"}
	p1 := NewPipeline(svc, fetcher, Config{MaxRetries: 3})
	p1.AddAlbumToQueue(albumRequest("al1", covers, "a1"))
	waitIdle(t, p1)
	require.Equal(t, 1, fetcher.coverFetchCount())

	// 新管道实例（模拟重启）下载同专辑另一首歌：封面已在注册表中，不再抓取
	p2 := NewPipeline(svc, fetcher, Config{MaxRetries: 3})
	p2.AddAlbumToQueue(albumRequest("al1", map[string]string{"a2": "c1"}, "a2"))
	waitIdle(t, p2)
	assert.Equal(t, 1, fetcher.coverFetchCount())
}

func TestPauseAndResume(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	p.Pause()
	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2"))

	// 暂停中不拾取任何项
	time.Sleep(50 * time.Millisecond)
	snap := p.Snapshot()
	assert.True(t, snap.Paused)
	assert.Equal(t, 2, snap.Pending)
	assert.Empty(t, fetcher.songOrder())

	p.Resume()
	snap = waitIdle(t, p)
	assert.False(t, snap.Paused)
	assert.Equal(t, 2, snap.Completed)
}

func TestClearQueueDropsPending(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	p.Pause()
	p.AddAlbumToQueue(albumRequest("al1", nil, "a1", "a2", "a3"))

	assert.Equal(t, 3, p.ClearQueue())
	snap := p.Snapshot()
	assert.Zero(t, snap.Total)

	p.Resume()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fetcher.songOrder())
}

func TestSubscribeReceivesEvents(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3})

	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1"))
	waitIdle(t, p)

	var types []EventType
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case event, ok := <-events:
			if !ok {
				break loop
			}
			types = append(types, event.Type)
			if event.Type == EventCacheUpdated {
				break loop
			}
		case <-deadline:
			break loop
		}
	}

	assert.Contains(t, types, EventQueueUpdated)
	assert.Contains(t, types, EventDownloadStarted)
	assert.Contains(t, types, EventDownloadCompleted)
	assert.Contains(t, types, EventCacheUpdated)
}

func TestAutoClearCompleted(t *testing.T) {
	svc := newTestService(t)
	fetcher := newFakeFetcher()
	p := NewPipeline(svc, fetcher, Config{MaxRetries: 3, AutoClearDelay: 30 * time.Millisecond})

	p.AddAlbumToQueue(albumRequest("al1", nil, "a1"))
	snap := waitIdle(t, p)
	require.Equal(t, 1, snap.Completed)

	// 完成项在延迟后自动移出可见队列
	require.Eventually(t, func() bool {
		return p.Snapshot().Total == 0
	}, 2*time.Second, 5*time.Millisecond)
}
