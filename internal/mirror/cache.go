package mirror

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	cacheListName = "mirrors.txt"
)

// ListCache is a transient directory holding the aggregated mirror list of
// one run. Close removes it; callers defer Close right after creation.
type ListCache struct {
	dir string
}

// NewListCache creates a fresh cache directory below parent.
// An empty parent means os.TempDir().
func NewListCache(parent string) (*ListCache, error) {
	dir, err := os.MkdirTemp(parent, "mirrorselect-")
	if err != nil {
		return nil, errors.Wrap(err, "NewListCache")
	}
	return &ListCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *ListCache) Dir() string {
	return c.dir
}

// ListPath returns the path of the cached aggregated list.
func (c *ListCache) ListPath() string {
	return filepath.Join(c.dir, cacheListName)
}

// WriteList stores the aggregated candidate list, one URL per line.
func (c *ListCache) WriteList(urls []MirrorURL) error {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(string(u))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(c.ListPath(), []byte(b.String()), 0600); err != nil {
		return errors.Wrap(err, "ListCache.WriteList")
	}
	return nil
}

// Close removes the cache directory and everything in it.
func (c *ListCache) Close() error {
	if c == nil || c.dir == "" {
		return nil
	}
	err := os.RemoveAll(c.dir)
	if err != nil {
		slog.Warn("failed to remove list cache", "path", c.dir, "error", err)
		return err
	}
	slog.Debug("list cache removed", "path", c.dir)
	c.dir = ""
	return nil
}
