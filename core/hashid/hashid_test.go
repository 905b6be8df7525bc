package hashid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeServerURL(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"https默认端口显式化", "https://music.example.com", "https://music.example.com:443"},
		{"http默认端口显式化", "http://music.example.com", "http://music.example.com:80"},
		{"去除尾部斜杠", "https://music.example.com/", "https://music.example.com:443"},
		{"host小写", "https://Music.Example.COM", "https://music.example.com:443"},
		{"scheme小写", "HTTPS://music.example.com", "https://music.example.com:443"},
		{"保留显式端口", "https://music.example.com:8443", "https://music.example.com:8443"},
		{"裁剪空白", "  https://music.example.com  ", "https://music.example.com:443"},
		{"无法解析时回退", "not a url/", "not a url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeServerURL(tc.raw))
		})
	}
}

func TestAudioHashDeterministic(t *testing.T) {
	h1 := AudioHash("https://music.example.com", "song-1")
	h2 := AudioHash("https://music.example.com", "song-1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestAudioHashNormalizedVariantsCollapse(t *testing.T) {
	base := AudioHash("https://music.example.com", "song-1")
	assert.Equal(t, base, AudioHash("https://music.example.com/", "song-1"))
	assert.Equal(t, base, AudioHash("https://Music.Example.com:443", "song-1"))
	assert.Equal(t, base, AudioHash("HTTPS://music.example.com", "song-1"))
}

func TestDifferentInputsDiffer(t *testing.T) {
	assert.NotEqual(t,
		AudioHash("https://music.example.com", "song-1"),
		AudioHash("https://music.example.com", "song-2"))
	assert.NotEqual(t,
		AudioHash("https://a.example.com", "song-1"),
		AudioHash("https://b.example.com", "song-1"))
}

func TestNamespacesDisjoint(t *testing.T) {
	// 相同的资源ID在音频与封面命名空间下必须得到不同哈希
	assert.NotEqual(t,
		AudioHash("https://music.example.com", "42"),
		CoverArtHash("https://music.example.com", "42"))
}

func TestUserKey(t *testing.T) {
	k1 := UserKey("https://music.example.com", "alice")
	k2 := UserKey("https://music.example.com/", "alice")
	require.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
	assert.NotEqual(t, k1, UserKey("https://music.example.com", "bob"))
}
