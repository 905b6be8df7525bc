package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BeanGreen247/xylonic-sub000/core/download"
	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/model"
)

var downloadQuality string

var downloadCmd = &cobra.Command{
	Use:   "download <albumId> [albumId...]",
	Short: "下载专辑到离线缓存",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		application, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		quality := downloadQuality
		if quality == "" {
			quality = application.cfg.DefaultQuality
		}

		// 先订阅再入队，避免错过完成事件
		events, unsubscribe := application.pipeline.Subscribe()
		defer unsubscribe()

		queued := 0
		for _, albumID := range args {
			album, ok := application.searchCache.GetAlbum(ctx, application.cfg.ServerURL, albumID)
			if !ok {
				album, err = application.client.GetAlbum(ctx, albumID)
				if err != nil {
					return fmt.Errorf("获取专辑失败 (%s): %w", albumID, err)
				}
				application.searchCache.PutAlbum(ctx, application.cfg.ServerURL, album)
			}

			artistCover := ""
			if album.ArtistID != "" {
				if cover, coverErr := application.client.GetArtistCoverArt(ctx, album.ArtistID); coverErr == nil {
					artistCover = cover
				}
			}

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

			application.pipeline.AddAlbumToQueue(model.AlbumDownloadRequest{
				AlbumID:          album.ID,
				AlbumName:        album.Name,
				Artist:           album.Artist,
				ArtistID:         album.ArtistID,
				ArtistCoverArtID: artistCover,
				Quality:          quality,
				Songs:            songs,
			})
			queued += len(songs)
			fmt.Printf("已入队: %s - %s (%d 首)\n", album.Artist, album.Name, len(songs))
		}

		if queued == 0 {
			return nil
		}

		// 等待队列排空
		for event := range events {
			switch event.Type {
			case download.EventDownloadCompleted:
				fmt.Printf("完成: %s (%d/%d)\n",
					event.Item.Song.Title, event.Snapshot.Completed, event.Snapshot.Total)
			case download.EventDownloadFailed:
				if event.Item.Status == model.StatusFailed {
					fmt.Printf("失败: %s (%s)\n", event.Item.Song.Title, event.Item.Error)
				}
			}
			if event.Snapshot.Pending == 0 && !event.Snapshot.Downloading {
				stats := application.svc.Stats()
				fmt.Printf("下载结束：完成 %d，失败 %d，缓存共 %d 首 / %d 字节\n",
					event.Snapshot.Completed, event.Snapshot.Failed,
					stats.SongCount, stats.AttributedBytes)
				return nil
			}
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadQuality, "quality", "q", "", "下载音质 (low/high/lossless)")
	rootCmd.AddCommand(downloadCmd)
}
