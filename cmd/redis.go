package cmd

import (
	"fmt"

	"tunevault/cache"
	"tunevault/db"

	"github.com/spf13/cobra"
)

var redisPurgeOwners bool

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试与缓存清理",
	Long:  `测试Redis连接并进行基本读写操作；加 --purge-owners 时清空曲目归属缓存。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		fmt.Fprintf(out, "Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		client, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := cache.Check(ctx, client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Fprintln(out, "Redis基本操作测试成功！")

		if redisPurgeOwners {
			n, err := cache.NewOwnerCache(client, nil, 0).Purge(ctx)
			if err != nil {
				return fmt.Errorf("清理归属缓存失败: %w", err)
			}
			fmt.Fprintf(out, "已删除 %d 个归属缓存键\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().BoolVar(&redisPurgeOwners, "purge-owners", false, "删除所有 owner:* 缓存键")
}
