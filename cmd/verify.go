package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BeanGreen247/xylonic-sub000/logger"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "校验缓存账本与物理文件的一致性",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		application, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		report, err := application.svc.RebuildAndVerify(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("校验通过: %d\n", report.Verified)
		fmt.Printf("注册表条目缺失: %d\n", report.MissingEntries)
		fmt.Printf("物理文件缺失: %d\n", report.MissingFiles)
		fmt.Printf("归属字节数: %d\n", report.AttributedBytes)
		if len(report.MissingSamples) > 0 {
			fmt.Println("缺失样本:")
			for _, songID := range report.MissingSamples {
				fmt.Printf("  - %s\n", songID)
			}
			fmt.Println("缺失的歌曲不会自动修复，请重新下载对应专辑。")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
