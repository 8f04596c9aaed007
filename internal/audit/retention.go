package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// RetentionConfig bounds how much audit history is kept on disk. Zero values
// disable the corresponding limit.
type RetentionConfig struct {
	MaxAgeDays   int
	MaxTotalSize int64
	MaxFiles     int
	Archive      bool // gzip instead of delete
}

// EnforceRetention prunes rotated log files oldest-first until the limits
// hold. The file currently being written is never touched. Pruning an audit
// file truncates the verifiable chain to what remains, so archive mode is
// the default in shipped config.
func EnforceRetention(dir, current string, cfg RetentionConfig, logger *slog.Logger) error {
	files, err := logFiles(dir)
	if err != nil {
		return err
	}

	var candidates []string
	var totalSize int64
	sizes := make(map[string]int64)
	for _, path := range files {
		if path == current {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		candidates = append(candidates, path)
		sizes[path] = info.Size()
		totalSize += info.Size()
	}

	prune := func(path string) {
		if cfg.Archive {
			if err := archiveFile(path); err != nil {
				logger.Warn("archive audit file failed", "file", path, "err", err)
				return
			}
		} else if err := os.Remove(path); err != nil {
			logger.Warn("remove audit file failed", "file", path, "err", err)
			return
		}
		totalSize -= sizes[path]
		logger.Info("pruned audit file", "file", path, "archived", cfg.Archive)
	}

	pruned := make(map[string]bool)

	if cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.MaxAgeDays)
		for _, path := range candidates {
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			prune(path)
			pruned[path] = true
		}
	}

	remaining := candidates[:0]
	for _, path := range candidates {
		if !pruned[path] {
			remaining = append(remaining, path)
		}
	}

	if cfg.MaxFiles > 0 {
		for len(remaining) > cfg.MaxFiles {
			prune(remaining[0])
			remaining = remaining[1:]
		}
	}

	if cfg.MaxTotalSize > 0 {
		for totalSize > cfg.MaxTotalSize && len(remaining) > 0 {
			prune(remaining[0])
			remaining = remaining[1:]
		}
	}
	return nil
}

func archiveFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
