package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/BeanGreen247/xylonic-sub000/logger"
	"github.com/BeanGreen247/xylonic-sub000/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动本地控制服务，暴露缓存与下载队列接口",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		application, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer application.artwork.Close()

		ctrl := server.NewControlServer(
			application.cfg,
			application.svc,
			application.pipeline,
			application.client,
			application.searchCache,
			application.artwork,
		)
		return ctrl.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
