package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BeanGreen247/xylonic-sub000/config"
	"github.com/BeanGreen247/xylonic-sub000/storage"
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "测试MinIO存储后端连接",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.MinioEndpoint == "" {
			fmt.Println("未配置 MINIO_ENDPOINT，当前使用本地存储后端。")
			return nil
		}

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			return fmt.Errorf("MinIO初始化失败: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 写入并读回一个测试账本验证读写权限
		payload := []byte(fmt.Sprintf(`{"checkedAt":%q}`, time.Now().Format(time.RFC3339)))
		if err := store.WriteLedger(ctx, "connection_test", payload); err != nil {
			return fmt.Errorf("写入测试对象失败: %w", err)
		}
		readBack, err := store.ReadLedger(ctx, "connection_test")
		if err != nil {
			return fmt.Errorf("读取测试对象失败: %w", err)
		}
		if string(readBack) != string(payload) {
			return fmt.Errorf("测试对象内容不一致")
		}
		if err := store.DeleteLedger(ctx, "connection_test"); err != nil {
			return fmt.Errorf("删除测试对象失败: %w", err)
		}

		fmt.Println("MinIO连接测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
}
