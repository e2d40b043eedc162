package cmd

import (
	"tunevault/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动TuneVault服务器",
	Long:  `启动HTTP服务器：上传、曲目管理、范围下载、带令牌的HLS播放以及代理校验接口。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
