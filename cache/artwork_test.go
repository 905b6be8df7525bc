package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeanGreen247/xylonic-sub000/model"
)

func TestArtworkStoreRoundTrip(t *testing.T) {
	store, err := OpenArtworkStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get("c1")
	assert.False(t, ok)

	store.Put("c1", []byte("jpeg-bytes"))
	data, ok := store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(data))

	// 覆盖写入
	store.Put("c1", []byte("new-bytes"))
	data, ok = store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "new-bytes", string(data))
}

func TestArtworkStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenArtworkStore(dir)
	require.NoError(t, err)
	store.Put("c1", []byte("jpeg-bytes"))
	require.NoError(t, store.Close())

	reopened, err := OpenArtworkStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok := reopened.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestSearchCacheDisabled(t *testing.T) {
	ctx := context.Background()
	c := NewSearchCache(nil)

	assert.False(t, c.Enabled())

	// 禁用时全部操作退化为未命中，不报错
	c.PutAlbum(ctx, "https://music.example.com", &model.RemoteAlbum{ID: "al1"})
	album, ok := c.GetAlbum(ctx, "https://music.example.com", "al1")
	assert.False(t, ok)
	assert.Nil(t, album)
}
