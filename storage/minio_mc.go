package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByKind       map[string]int64 // object count per kind (audio, stream, image, other)
}

// CollectStats summarises every object under prefix.
func CollectStats(ctx context.Context, store BlobStore, prefix string) (*BucketStats, []ObjectInfo, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}

	stats := &BucketStats{ByKind: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		stats.ByKind[inferKind(obj.Key)]++
	}
	return stats, objects, nil
}

// PrintStats 打印存储桶统计信息
func PrintStats(w io.Writer, bucket, prefix string, stats *BucketStats) {
	fmt.Fprintf(w, "\n=== 存储桶统计信息 ===\n")
	fmt.Fprintf(w, "存储桶名称: %s\n", bucket)
	fmt.Fprintf(w, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(w, "总大小: %s\n", formatSize(stats.TotalSize))
	fmt.Fprintf(w, "对象总数: %d\n", stats.TotalObjects)
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后修改时间: %s\n", stats.LastModified.Format(time.RFC3339))
	}

	kinds := make([]string, 0, len(stats.ByKind))
	for kind := range stats.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "\n文件类型统计:\n")
	for _, kind := range kinds {
		fmt.Fprintf(w, "%s: %d 个文件\n", kind, stats.ByKind[kind])
	}
}

// PrintObjects 列出对象
func PrintObjects(w io.Writer, objects []ObjectInfo) {
	for _, obj := range objects {
		fmt.Fprintf(w, "%s  %s  %s\n", obj.LastModified.Format(time.RFC3339), formatSize(obj.Size), obj.Key)
	}
}

// PrintTree 打印目录结构
func PrintTree(w io.Writer, prefix string, objects []ObjectInfo) {
	dirs := make(map[string]bool)
	for _, obj := range objects {
		for dir := path.Dir(obj.Key); dir != "." && dir != "/"; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}

	var sortedDirs []string
	for dir := range dirs {
		if strings.HasPrefix(dir+"/", prefix) || strings.HasPrefix(prefix, dir+"/") {
			sortedDirs = append(sortedDirs, dir)
		}
	}
	sort.Strings(sortedDirs)

	for _, dir := range sortedDirs {
		indent := strings.Repeat("  ", strings.Count(dir, "/"))
		fmt.Fprintf(w, "%s📁 %s/\n", indent, path.Base(dir))
		for _, obj := range objects {
			if path.Dir(obj.Key) == dir {
				fmt.Fprintf(w, "%s  📄 %s (%s)\n", indent, path.Base(obj.Key), formatSize(obj.Size))
			}
		}
	}

	// 根目录下的文件
	for _, obj := range objects {
		if !strings.Contains(obj.Key, "/") {
			fmt.Fprintf(w, "📄 %s (%s)\n", obj.Key, formatSize(obj.Size))
		}
	}
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// inferKind 从对象键推断类别
func inferKind(key string) string {
	if strings.Contains(key, "/streams/") {
		return "stream"
	}
	if strings.Contains(key, "/covers/") {
		return "image"
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3", ".flac", ".ogg", ".opus", ".oga":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".gif":
		return "image"
	default:
		return "other"
	}
}
