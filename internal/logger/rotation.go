package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// RotationPolicy controls when a RotatingWriter moves its file aside and
// how many backups survive. Zero values disable the matching limit.
type RotationPolicy struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// RotatingWriter appends to a file and renames it to path.<timestamp> once
// the next write would exceed the size limit. It is shared by the process
// log and the JSON-lines audit trail. Safe for concurrent use.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	policy  RotationPolicy
	limit   int64
	f       *os.File
	size    int64
	now     func() time.Time
	pending sync.WaitGroup
}

// OpenRotating opens path for appending, creating its directory, and
// prunes backups left by earlier runs.
func OpenRotating(path string, policy RotationPolicy) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:   path,
		policy: policy,
		limit:  int64(policy.MaxSizeMB) << 20,
		now:    time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	if w.limit > 0 && w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return w.rotate()
}

// Close closes the file and waits for background compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.f != nil {
		err = w.f.Close()
		w.f = nil
	}
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil

	backup := w.path + "." + w.now().UTC().Format(backupTimeFormat)
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}
	if w.policy.Compress {
		w.pending.Add(1)
		go func() {
			defer w.pending.Done()
			_ = gzipFile(backup)
		}()
	}

	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// backups returns rotated file stems, newest first. A stem may exist as
// plain, gzipped, or both while compression is running.
func (w *RotatingWriter) backups() []string {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var stems []string
	for _, m := range matches {
		stem := strings.TrimSuffix(m, ".gz")
		if !seen[stem] {
			seen[stem] = true
			stems = append(stems, stem)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(stems)))
	return stems
}

func (w *RotatingWriter) prune() {
	if w.policy.MaxAgeDays <= 0 && w.policy.MaxBackups <= 0 {
		return
	}

	var cutoff time.Time
	if w.policy.MaxAgeDays > 0 {
		cutoff = w.now().AddDate(0, 0, -w.policy.MaxAgeDays)
	}
	for i, stem := range w.backups() {
		expired := w.policy.MaxBackups > 0 && i >= w.policy.MaxBackups
		if !expired && !cutoff.IsZero() {
			expired = olderThan(stem, cutoff) || olderThan(stem+".gz", cutoff)
		}
		if expired {
			_ = os.Remove(stem)
			_ = os.Remove(stem + ".gz")
		}
	}
}

func olderThan(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	return err == nil && info.ModTime().Before(cutoff)
}

// gzipFile replaces name with name.gz.
func gzipFile(name string) (err error) {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(name + ".gz")
		}
	}()

	zw := gzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
