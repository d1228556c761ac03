package cmd

import (
	"CastShelf/app"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "只运行后台处理worker",
	Long:  `不启动HTTP服务，仅从队列中消费采集与清理任务，并按SWEEP_INTERVAL定时回收孤立文件`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Sweeper.Start(cfg.SweepInterval)
		defer a.Sweeper.Stop()
		return a.Worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
