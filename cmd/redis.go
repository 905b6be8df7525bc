package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BeanGreen247/xylonic-sub000/cache"
	"github.com/BeanGreen247/xylonic-sub000/config"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "测试Redis连接（搜索缓存依赖，可选）",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.RedisHost == "" {
			fmt.Println("未配置 REDIS_HOST，搜索缓存处于禁用状态。")
			return nil
		}

		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return fmt.Errorf("Redis连接失败: %w", err)
		}
		defer client.Close()

		if err := cache.TestRedis(client); err != nil {
			return fmt.Errorf("Redis测试失败: %w", err)
		}

		fmt.Println("Redis连接测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
