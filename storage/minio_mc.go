package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByExtension  map[string]int64
}

// MinioClient is the operator view of the artifact bucket used by the
// minio command.
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient 创建一个新的 MinIO 客户端
func NewMinioClient(opts MinioOptions) (*MinioClient, error) {
	client, err := newMinioClient(opts)
	if err != nil {
		return nil, err
	}
	return &MinioClient{client: client, bucketName: opts.Bucket}, nil
}

func (m *MinioClient) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucketName, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", m.bucketName)
	}
	return nil
}

// ListObjects lists every object under prefix and aggregates stats.
func (m *MinioClient) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return nil, nil, err
	}

	var objects []ObjectInfo
	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, summarize(objects), nil
}

// summarize 汇总对象统计
func summarize(objects []ObjectInfo) *BucketStats {
	stats := &BucketStats{ByExtension: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		stats.ByExtension[fileExtension(obj.Key)]++
	}
	return stats
}

func fileExtension(key string) string {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}

// PrintStats writes a bucket summary to w.
func (m *MinioClient) PrintStats(ctx context.Context, w io.Writer, prefix string) error {
	_, stats, err := m.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	writeStats(w, m.bucketName, prefix, stats)
	return nil
}

func writeStats(w io.Writer, bucket, prefix string, stats *BucketStats) {
	fmt.Fprintf(w, "bucket:        %s\n", bucket)
	fmt.Fprintf(w, "prefix:        %q\n", prefix)
	fmt.Fprintf(w, "objects:       %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "total size:    %s\n", humanize.Bytes(uint64(stats.TotalSize)))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "last modified: %s (%s)\n", stats.LastModified.Format(time.RFC3339), humanize.Time(stats.LastModified))
	}

	exts := make([]string, 0, len(stats.ByExtension))
	for ext := range stats.ByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	fmt.Fprintln(w, "by extension:")
	for _, ext := range exts {
		fmt.Fprintf(w, "  %-8s %s\n", ext, humanize.Comma(stats.ByExtension[ext]))
	}
}

// PrintTree writes the objects under prefix grouped by directory.
func (m *MinioClient) PrintTree(ctx context.Context, w io.Writer, prefix string) error {
	objects, _, err := m.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	writeTree(w, objects)
	return nil
}

func writeTree(w io.Writer, objects []ObjectInfo) {
	byDir := make(map[string][]ObjectInfo)
	for _, obj := range objects {
		dir := path.Dir(obj.Key)
		byDir[dir] = append(byDir[dir], obj)
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		indent := ""
		if dir != "." {
			indent = strings.Repeat("  ", strings.Count(dir, "/"))
			fmt.Fprintf(w, "%s%s/\n", indent, dir)
			indent += "  "
		}
		files := byDir[dir]
		sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
		for _, obj := range files {
			fmt.Fprintf(w, "%s%s (%s)\n", indent, path.Base(obj.Key), humanize.Bytes(uint64(obj.Size)))
		}
	}
}

// DeleteDirectory 递归删除目录
func (m *MinioClient) DeleteDirectory(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete the whole bucket")
	}
	if err := m.ensureBucket(ctx); err != nil {
		return 0, err
	}

	var toDelete []minio.ObjectInfo
	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return 0, fmt.Errorf("list objects: %w", object.Err)
		}
		toDelete = append(toDelete, object)
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(toDelete))
	for _, obj := range toDelete {
		objectsCh <- obj
	}
	close(objectsCh)

	for rErr := range m.client.RemoveObjects(ctx, m.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil {
			return 0, fmt.Errorf("delete %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return len(toDelete), nil
}
