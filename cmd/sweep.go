package cmd

import (
	"fmt"

	"CastShelf/app"
	"CastShelf/core/jobs"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	sweepDryRun  bool
	sweepEnqueue bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "回收不再被引用的媒体文件",
	Long:  `查找没有任何媒体库条目引用的文件记录，删除其存储对象和记录。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if sweepEnqueue {
			job, err := jobs.NewJob(jobs.TypeSweepOrphans, struct{}{})
			if err != nil {
				return err
			}
			if err := a.Queue.Enqueue(ctx, job); err != nil {
				return fmt.Errorf("enqueue sweep: %w", err)
			}
			fmt.Printf("sweep job %s queued\n", job.ID)
			return nil
		}

		report, err := a.Sweeper.ReclaimOrphans(ctx, sweepDryRun)
		if err != nil {
			return err
		}
		if sweepDryRun {
			var total int64
			for _, o := range report.Orphans {
				total += o.Size
				fmt.Printf("%6d  %-60s %s\n", o.ID, o.StoragePath, humanize.Bytes(uint64(o.Size)))
			}
			fmt.Printf("\n%d orphaned artifacts, %s reclaimable\n", len(report.Orphans), humanize.Bytes(uint64(total)))
			return nil
		}
		fmt.Printf("scanned %d, reclaimed %d, skipped %d\n", report.Scanned, report.Reclaimed, report.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVarP(&sweepDryRun, "dry-run", "n", false, "只列出将被回收的文件，不做删除")
	sweepCmd.Flags().BoolVar(&sweepEnqueue, "enqueue", false, "把清理任务放入队列，由worker执行")
	sweepCmd.MarkFlagsMutuallyExclusive("dry-run", "enqueue")
}
