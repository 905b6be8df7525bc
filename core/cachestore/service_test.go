package cachestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeanGreen247/xylonic-sub000/core/hashid"
	"github.com/BeanGreen247/xylonic-sub000/model"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

// newTestInstall 构建一套共享的存储与注册表，模拟同一安装
func newTestInstall(t *testing.T) (*storage.LocalStore, *Registry) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	registry, err := OpenRegistry(context.Background(), store)
	require.NoError(t, err)
	return store, registry
}

// newUserService 在同一安装上为指定用户构建缓存服务
func newUserService(t *testing.T, store *storage.LocalStore, registry *Registry, userID string) *CacheService {
	t.Helper()
	ctx := context.Background()
	index, err := OpenUserIndex(ctx, store, userID, userID, testServerURL)
	require.NoError(t, err)
	profile, err := OpenProfileStore(ctx, store, userID, testServerURL)
	require.NoError(t, err)
	return NewCacheService(userID, userID, testServerURL, registry, index, profile, store)
}

func descriptor(songID, albumID string) model.SongDescriptor {
	return model.SongDescriptor{
		SongID:   songID,
		Title:    "Song " + songID,
		Artist:   "Artist",
		ArtistID: "ar1",
		Album:    "Album " + albumID,
		AlbumID:  albumID,
		Duration: 180,
	}
}

func TestAddToCacheIdempotent(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))

	assert.True(t, svc.IsCached("s1"))
	stats := svc.Stats()
	assert.Equal(t, 1, stats.SongCount)
	assert.Equal(t, 1, stats.SharedAudio)
	assert.Equal(t, int64(8), stats.SharedBytes)

	hash := hashid.AudioHash(testServerURL, "s1")
	entry, ok := registry.AudioEntry(hash)
	require.True(t, ok)
	assert.Equal(t, 1, entry.RefCount)
}

func TestTwoUsersShareOneFile(t *testing.T) {
	store, registry := newTestInstall(t)
	alice := newUserService(t, store, registry, "alice")
	bob := newUserService(t, store, registry, "bob")
	ctx := context.Background()

	require.NoError(t, alice.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))
	require.NoError(t, bob.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))

	// 全局只有一份物理文件，两个引用
	hash := hashid.AudioHash(testServerURL, "s1")
	entry, ok := registry.AudioEntry(hash)
	require.True(t, ok)
	assert.Equal(t, 2, entry.RefCount)

	_, _, totalBytes := registry.Stats()
	assert.Equal(t, int64(8), totalBytes)

	// 归属字节数各自独立计算
	assert.Equal(t, int64(8), alice.Stats().AttributedBytes)
	assert.Equal(t, int64(8), bob.Stats().AttributedBytes)
}

func TestRemoveKeepsSharedFileUntilLastRef(t *testing.T) {
	store, registry := newTestInstall(t)
	alice := newUserService(t, store, registry, "alice")
	bob := newUserService(t, store, registry, "bob")
	ctx := context.Background()

	require.NoError(t, alice.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))
	require.NoError(t, bob.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))

	hash := hashid.AudioHash(testServerURL, "s1")
	entry, _ := registry.AudioEntry(hash)
	relPath := entry.FilePath

	require.NoError(t, alice.RemoveFromCache(ctx, "s1"))
	assert.False(t, alice.IsCached("s1"))
	assert.True(t, bob.IsCached("s1"))

	exists, err := store.FileExists(ctx, relPath)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, bob.RemoveFromCache(ctx, "s1"))
	exists, err = store.FileExists(ctx, relPath)
	require.NoError(t, err)
	assert.False(t, exists)
	_, ok := registry.AudioEntry(hash)
	assert.False(t, ok)
}

func TestRemoveNotCached(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")

	err := svc.RemoveFromCache(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestGetCachedFilePath(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	_, ok := svc.GetCachedFilePath(ctx, "s1")
	assert.False(t, ok)

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("audio-s1"), "mp3"))

	path, ok := svc.GetCachedFilePath(ctx, "s1")
	require.True(t, ok)
	exists, err := store.FileExists(ctx, "audio/"+hashid.AudioHash(testServerURL, "s1")+".mp3")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, path, ".mp3")
}

func TestCoverArtRefCountedPerUser(t *testing.T) {
	store, registry := newTestInstall(t)
	alice := newUserService(t, store, registry, "alice")
	bob := newUserService(t, store, registry, "bob")
	ctx := context.Background()

	hash, err := alice.CacheCoverArt(ctx, "cover-1", []byte("img"), "jpg")
	require.NoError(t, err)

	// 第二个用户缓存同一封面ID：不重新落盘，只补引用
	hash2, err := bob.CacheCoverArt(ctx, "cover-1", []byte("different bytes"), "jpg")
	require.NoError(t, err)
	assert.Equal(t, hash, hash2)

	entry, ok := registry.CoverArtEntry(hash)
	require.True(t, ok)
	assert.Equal(t, 2, entry.RefCount)
	assert.Equal(t, int64(3), entry.Size)
}

func TestRemoveSongReleasesCoverOnlyWhenUnused(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("a1"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s2", "al1"), "high", []byte("a2"), "mp3"))

	coverHash, err := svc.CacheCoverArt(ctx, "cover-1", []byte("img"), "jpg")
	require.NoError(t, err)
	svc.AttachCoverArt(ctx, "s1", "cover-1", coverHash, "")
	svc.AttachCoverArt(ctx, "s2", "cover-1", coverHash, "")

	// 还有另一首歌引用该封面，封面保留
	require.NoError(t, svc.RemoveFromCache(ctx, "s1"))
	_, ok := registry.CoverArtEntry(coverHash)
	assert.True(t, ok)

	// 最后一首引用歌曲移除后封面随之回收
	require.NoError(t, svc.RemoveFromCache(ctx, "s2"))
	_, ok = registry.CoverArtEntry(coverHash)
	assert.False(t, ok)
	_, ok = registry.ResolveCoverArt("cover-1")
	assert.False(t, ok)
}

func TestRemoveAlbumFromCache(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("a1"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s2", "al1"), "high", []byte("a2"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s3", "al2"), "high", []byte("a3"), "mp3"))

	removed, err := svc.RemoveAlbumFromCache(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, svc.IsCached("s1"))
	assert.False(t, svc.IsCached("s2"))
	assert.True(t, svc.IsCached("s3"))
}

func TestClearAllKeepsProfile(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("a1"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s2", "al2"), "high", []byte("a2"), "mp3"))
	svc.Profile().ToggleLikedSong(ctx, "s1")

	removed, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, svc.Stats().SongCount)

	// 画像与缓存生命周期解耦：清空缓存后喜欢列表与历史保留
	assert.True(t, svc.Profile().IsLiked("s1"))
	assert.Len(t, svc.Profile().History(), 2)
}

func TestRebuildAndVerify(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()

	require.NoError(t, svc.AddToCache(ctx, descriptor("s1", "al1"), "high", []byte("a1"), "mp3"))
	require.NoError(t, svc.AddToCache(ctx, descriptor("s2", "al1"), "high", []byte("a2"), "mp3"))

	// 绕过注册表直接删掉一个物理文件
	hash := hashid.AudioHash(testServerURL, "s2")
	entry, ok := registry.AudioEntry(hash)
	require.True(t, ok)
	require.NoError(t, store.DeleteFile(ctx, entry.FilePath))

	report, err := svc.RebuildAndVerify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)
	assert.Equal(t, 1, report.MissingFiles)
	assert.Zero(t, report.MissingEntries)
	assert.Contains(t, report.MissingSamples, "s2")
	assert.Equal(t, int64(4), report.AttributedBytes)
}

func TestProfilePreferencesAndLikes(t *testing.T) {
	store, registry := newTestInstall(t)
	svc := newUserService(t, store, registry, "alice")
	ctx := context.Background()
	profile := svc.Profile()

	assert.True(t, profile.ToggleLikedSong(ctx, "s1"))
	assert.True(t, profile.IsLiked("s1"))
	assert.False(t, profile.ToggleLikedSong(ctx, "s1"))
	assert.False(t, profile.IsLiked("s1"))

	profile.SetPreference(ctx, "theme", "dark")
	v, ok := profile.Preference("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
	_, ok = profile.Preference("missing")
	assert.False(t, ok)
}
