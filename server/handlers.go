package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.pipeline.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":        s.svc.UserID(),
		"server":      s.cfg.ServerURL,
		"paused":      snapshot.Paused,
		"downloading": snapshot.Downloading,
		"queueSize":   snapshot.Total,
	})
}

func (s *ControlServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *ControlServer) handleCacheAlbums(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Albums())
}

func (s *ControlServer) handleCacheSongs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Songs())
}

func (s *ControlServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.RebuildAndVerify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *ControlServer) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	songID := mux.Vars(r)["id"]
	if err := s.svc.RemoveFromCache(r.Context(), songID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": songID})
}

func (s *ControlServer) handleRemoveAlbum(w http.ResponseWriter, r *http.Request) {
	albumID := mux.Vars(r)["id"]
	removed, err := s.svc.RemoveAlbumFromCache(r.Context(), albumID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"albumId": albumID, "removed": removed})
}

func (s *ControlServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Snapshot())
}

func (s *ControlServer) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Pause()
	writeJSON(w, http.StatusOK, s.pipeline.Snapshot())
}

func (s *ControlServer) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Resume()
	writeJSON(w, http.StatusOK, s.pipeline.Snapshot())
}

func (s *ControlServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	dropped := s.pipeline.ClearQueue()
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (s *ControlServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	retried := s.pipeline.RetryFailed()
	writeJSON(w, http.StatusOK, map[string]int{"retried": retried})
}

// handleDownloadAlbum 获取专辑曲目并整体入队，专辑元数据优先走搜索缓存
func (s *ControlServer) handleDownloadAlbum(w http.ResponseWriter, r *http.Request) {
	albumID := mux.Vars(r)["id"]
	quality := r.URL.Query().Get("quality")
	if quality == "" {
		quality = s.cfg.DefaultQuality
	}

	album, ok := s.searchCache.GetAlbum(r.Context(), s.cfg.ServerURL, albumID)
	if !ok {
		fetched, err := s.client.GetAlbum(r.Context(), albumID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		album = fetched
		s.searchCache.PutAlbum(r.Context(), s.cfg.ServerURL, album)
	}

	artistCover := ""
	if album.ArtistID != "" {
		if cover, err := s.client.GetArtistCoverArt(r.Context(), album.ArtistID); err == nil {
			artistCover = cover
		}
	}

	req := model.AlbumDownloadRequest{
		AlbumID:          album.ID,
		AlbumName:        album.Name,
		Artist:           album.Artist,
		ArtistID:         album.ArtistID,
		ArtistCoverArtID: artistCover,
		Quality:          quality,
		Songs:            songsToDescriptors(album),
	}
	ids := s.pipeline.AddAlbumToQueue(req)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"albumId": album.ID,
		"queued":  len(ids),
		"itemIds": ids,
	})
}

// handleArtwork 取封面预览字节
// 查找顺序：预览缓存 → 注册表里的权威封面文件 → 在线拉取并回填预览缓存
func (s *ControlServer) handleArtwork(w http.ResponseWriter, r *http.Request) {
	coverArtID := mux.Vars(r)["id"]

	if data, ok := s.artwork.Get(coverArtID); ok {
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Write(data)
		return
	}

	if path, ok := s.svc.GetCoverArtPath(coverArtID); ok {
		data, err := os.ReadFile(path)
		if err == nil {
			s.artwork.Put(coverArtID, data)
			w.Header().Set("Content-Type", http.DetectContentType(data))
			w.Write(data)
			return
		}
		logger.Warn("读取本地封面失败", logger.String("coverArtId", coverArtID), logger.ErrorField(err))
	}

	body, _, contentType, err := s.client.FetchCoverArt(r.Context(), coverArtID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.artwork.Put(coverArtID, data)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func songsToDescriptors(album *model.RemoteAlbum) []model.SongDescriptor {
	songs := make([]model.SongDescriptor, len(album.Songs))
	for i, song := range album.Songs {
		songs[i] = model.SongDescriptor{
			SongID:     song.ID,
			Title:      song.Title,
			Artist:     song.Artist,
			Album:      song.Album,
			AlbumID:    song.AlbumID,
			ArtistID:   song.ArtistID,
			Duration:   song.Duration,
			CoverArtID: song.CoverArtID,
		}
	}
	return songs
}
