// Package hashid 从（服务器，资源ID）对派生稳定的内容标识
// 纯函数、无状态；相同逻辑服务器的不同写法归一化后产生相同哈希
package hashid

import (
	"net/url"
	"strings"

	"github.com/opencontainers/go-digest"
)

// 音频与封面使用不相交的命名空间前缀，即使资源ID字符串相同也不会碰撞
const (
	audioNamespace    = "audio"
	coverArtNamespace = "cover"
)

// NormalizeServerURL 归一化服务器地址：小写 scheme 与 host、显式端口、去除尾部斜杠
// 无法解析的地址回退到裁剪后的小写字符串，不报错
func NormalizeServerURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(strings.TrimRight(trimmed, "/"))
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	if port != "" {
		return scheme + "://" + host + ":" + port
	}
	return scheme + "://" + host
}

// AudioHash 计算歌曲的内容哈希
func AudioHash(serverURL, songID string) string {
	return hashOf(audioNamespace, serverURL, songID)
}

// CoverArtHash 计算封面的内容哈希
func CoverArtHash(serverURL, coverArtID string) string {
	return hashOf(coverArtNamespace, serverURL, coverArtID)
}

// UserKey 为（服务器，用户）身份生成账本文件名用的短标识
func UserKey(serverURL, userID string) string {
	return hashOf("user", serverURL, userID)[:16]
}

func hashOf(namespace, serverURL, resourceID string) string {
	normalized := NormalizeServerURL(serverURL)
	return digest.FromString(namespace + "|" + normalized + "|" + resourceID).Encoded()
}
