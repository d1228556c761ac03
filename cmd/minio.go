package cmd

import (
	"errors"
	"fmt"
	"os"

	"CastShelf/storage"

	"github.com/dustin/go-humanize"
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
	Long:  `查看和管理MinIO存储桶中的文件，支持列出文件、查看统计信息、递归显示目录结构、删除目录等功能。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.NewMinioClient(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("创建MinIO客户端失败: %w", err)
		}

		switch {
		case minioDelete:
			if minioPrefix == "" {
				return errors.New("删除操作需要指定目录前缀")
			}
			n, err := client.DeleteDirectory(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %s 下的 %d 个对象\n", minioPrefix, n)
		case minioRecursive:
			return client.PrintTree(ctx, os.Stdout, minioPrefix)
		case minioStats:
			return client.PrintStats(ctx, os.Stdout, minioPrefix)
		default:
			objects, _, err := client.ListObjects(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("列出文件失败: %w", err)
			}
			for _, obj := range objects {
				fmt.Printf("%-70s %10s  %s\n", obj.Key, humanize.Bytes(uint64(obj.Size)), humanize.Time(obj.LastModified))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归显示目录结构")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  castshelf minio

  # 显示 media/ 下的统计信息
  castshelf minio -s -p "media/"

  # 递归显示目录结构
  castshelf minio -r -p "media/"

  # 删除目录及其下的所有文件
  castshelf minio -d -p "temp/"`
}
