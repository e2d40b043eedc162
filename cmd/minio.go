package cmd

import (
	"errors"
	"fmt"

	"tunevault/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的对象，支持列出对象、查看统计信息、递归显示目录结构、删除前缀。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		fmt.Fprintf(out, "MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}

		switch {
		case minioDelete:
			if minioPrefix == "" {
				return errors.New("删除操作需要指定前缀 (-p)")
			}
			fmt.Fprintf(out, "删除前缀: %s\n", minioPrefix)
			if err := store.RemovePrefix(ctx, minioPrefix); err != nil {
				return fmt.Errorf("删除失败: %w", err)
			}
		case minioStats:
			stats, _, err := storage.CollectStats(ctx, store, minioPrefix)
			if err != nil {
				return fmt.Errorf("获取统计信息失败: %w", err)
			}
			storage.PrintStats(out, store.Bucket(), minioPrefix, stats)
		default:
			objects, err := store.List(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("列出对象失败: %w", err)
			}
			if minioRecursive {
				storage.PrintTree(out, minioPrefix, objects)
			} else {
				storage.PrintObjects(out, objects)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤对象或指定要删除的前缀")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "以树形结构显示")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的所有对象")

	minioCmd.Example = `  # 列出所有对象
  tunevault minio

  # 某个用户的目录树
  tunevault minio -r -p "<principalId>/"

  # 统计某个用户的 HLS 分片
  tunevault minio -s -p "<principalId>/streams/"

  # 删除一首曲目的分片
  tunevault minio -d -p "<principalId>/streams/<trackId>/"`
}
