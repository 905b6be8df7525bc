package subsonic

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeanGreen247/xylonic-sub000/config"
)

func newTestClient(serverURL string) *Client {
	return NewClient(&config.Config{
		ServerURL:  serverURL,
		Username:   "alice",
		Password:   "secret",
		ClientName: "xylonic",
		APIVersion: "1.16.1",
	})
}

// verifyToken 按协议重算盐化令牌
func verifyToken(t *testing.T, query map[string][]string, password string) {
	t.Helper()
	salt := query["s"][0]
	sum := md5.Sum([]byte(password + salt))
	assert.Equal(t, hex.EncodeToString(sum[:]), query["t"][0])
}

func TestAuthParams(t *testing.T) {
	c := newTestClient("https://music.example.com")

	params := c.authParams()
	assert.Equal(t, "alice", params.Get("u"))
	assert.Equal(t, "1.16.1", params.Get("v"))
	assert.Equal(t, "xylonic", params.Get("c"))
	assert.Equal(t, "json", params.Get("f"))
	assert.Len(t, params.Get("s"), 16)

	sum := md5.Sum([]byte("secret" + params.Get("s")))
	assert.Equal(t, hex.EncodeToString(sum[:]), params.Get("t"))

	// 盐每次重新生成
	assert.NotEqual(t, params.Get("s"), c.authParams().Get("s"))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/ping.view", r.URL.Path)
		verifyToken(t, r.URL.Query(), "secret")
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestPingAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Wrong username or password")
}

func TestGetAlbum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/getAlbum.view", r.URL.Path)
		assert.Equal(t, "al1", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok","album":{
			"id":"al1","name":"Test Album","artist":"Test Artist","artistId":"ar1",
			"coverArt":"c1","songCount":2,
			"song":[
				{"id":"s1","title":"One","artist":"Test Artist","artistId":"ar1","album":"Test Album","albumId":"al1","duration":120,"coverArt":"c1","suffix":"mp3"},
				{"id":"s2","title":"Two","artist":"Test Artist","artistId":"ar1","album":"Test Album","albumId":"al1","duration":150,"coverArt":"c1","suffix":"mp3"}
			]}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	album, err := c.GetAlbum(context.Background(), "al1")
	require.NoError(t, err)
	assert.Equal(t, "Test Album", album.Name)
	assert.Equal(t, "ar1", album.ArtistID)
	require.Len(t, album.Songs, 2)
	assert.Equal(t, "s2", album.Songs[1].ID)
	assert.Equal(t, "c1", album.Songs[0].CoverArtID)
}

func TestGetAlbumMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetAlbum(context.Background(), "nope")
	assert.Error(t, err)
}

func TestGetArtistCoverArt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/getArtist.view", r.URL.Path)
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok","artist":{"id":"ar1","name":"Test Artist","coverArt":"ar-c1"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	cover, err := c.GetArtistCoverArt(context.Background(), "ar1")
	require.NoError(t, err)
	assert.Equal(t, "ar-c1", cover)
}

func TestFetchSong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/stream.view", r.URL.Path)
		assert.Equal(t, "s1", r.URL.Query().Get("id"))
		assert.Equal(t, "320", r.URL.Query().Get("maxBitRate"))
		verifyToken(t, r.URL.Query(), "secret")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	stream, total, contentType, err := c.FetchSong(context.Background(), "s1", "high")
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
	assert.Equal(t, int64(len(data)), total)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestFetchSongLosslessOmitsBitRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("maxBitRate"))
		w.Header().Set("Content-Type", "audio/flac")
		w.Write([]byte("flac-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	stream, _, _, err := c.FetchSong(context.Background(), "s1", "lossless")
	require.NoError(t, err)
	stream.Close()
}

func TestFetchCoverArt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/getCoverArt.view", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	stream, _, contentType, err := c.FetchCoverArt(context.Background(), "c1")
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "image/jpeg", contentType)
}
