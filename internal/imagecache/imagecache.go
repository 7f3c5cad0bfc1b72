// Package imagecache persists downloaded image payloads on disk with a
// global byte quota. Metadata (URI, local path, size, timestamp) lives in
// the image-cache namespace of the durable store; the bytes live as plain
// files named by a hash of the source URI.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gatherly/syncstore/internal/cache"
	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

// Config holds the disk-side settings. Metadata policy (TTL, namespace)
// comes from the cache manager the DiskCache is constructed with.
type Config struct {
	// Dir is the directory holding cached image files. Created if absent.
	Dir string `yaml:"dir"`
	// MaxUsage is the disk byte quota across all cached images.
	MaxUsage int64 `yaml:"max_usage"`
	// DownloadTimeout bounds a single download attempt.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// MaxDownloadRetries is the per-URI retry budget for transient
	// download failures.
	MaxDownloadRetries uint64 `yaml:"max_download_retries"`
}

const (
	defaultMaxUsage        = 100 * 1024 * 1024 // 100MB
	defaultDownloadTimeout = 30 * time.Second
	defaultDownloadRetries = 2
)

// DiskCache downloads images and keeps them under a disk quota, evicting
// the globally-oldest entries first. A metadata record without its file
// is treated as a miss and removed, so the cache heals itself after
// files disappear out from under it.
type DiskCache struct {
	mu     sync.Mutex
	meta   *cache.Manager
	cfg    Config
	usage  int64
	client *http.Client
	logger *zap.Logger

	// inflight coalesces concurrent CacheImage calls for the same URI.
	inflight map[string]chan struct{}
}

// New creates the cache directory if needed and computes current disk
// usage from a single directory listing. Usage is tracked incrementally
// from then on.
func New(meta *cache.Manager, cfg Config, logger *zap.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "image cache directory not set").
			WithComponent("imagecache")
	}
	if cfg.MaxUsage <= 0 {
		cfg.MaxUsage = defaultMaxUsage
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.MaxDownloadRetries == 0 {
		cfg.MaxDownloadRetries = defaultDownloadRetries
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageWrite, "create image cache directory", err).
			WithComponent("imagecache").WithContext("dir", cfg.Dir)
	}

	d := &DiskCache{
		meta:     meta,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.DownloadTimeout},
		logger:   logger.With(zap.String("component", "imagecache")),
		inflight: make(map[string]chan struct{}),
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "list image cache directory", err).
			WithComponent("imagecache").WithContext("dir", cfg.Dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		d.usage += info.Size()
	}

	return d, nil
}

// Usage returns the tracked disk usage in bytes.
func (d *DiskCache) Usage() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usage
}

// contentKey derives the stable metadata key for a source URI. Hashing
// the URI (not the bytes) means the same URI always maps to the same
// local file and distinct URIs never collide.
func contentKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// localName appends the URI's file extension to the content key so the
// on-disk name stays recognizable to image tooling.
func localName(uri string) string {
	name := contentKey(uri)
	if u, err := url.Parse(uri); err == nil {
		if ext := filepath.Ext(u.Path); ext != "" && len(ext) <= 8 && !strings.ContainsAny(ext, "/\\") {
			name += ext
		}
	}
	return name
}

// GetCachedImage returns the local path for a previously cached URI, or
// false on a miss. Either side can go stale independently: metadata with
// no file is deleted, and a file whose metadata expired is removed so it
// stays reclaimable under the quota.
func (d *DiskCache) GetCachedImage(uri string) (string, bool) {
	key := contentKey(uri)
	entry, ok := cache.Get[types.ImageEntry](d.meta, key)
	if !ok {
		d.removeOrphan(uri)
		return "", false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		d.logger.Warn("cached image file missing, healing metadata",
			zap.String("uri", uri), zap.String("path", entry.LocalPath))
		d.meta.Delete(key)
		d.subtractUsage(entry.Size)
		return "", false
	}
	return entry.LocalPath, true
}

// removeOrphan deletes the on-disk file for a URI whose metadata is gone,
// typically after TTL expiry, and releases its bytes from the usage count.
// A URI with a download in flight is left alone; its metadata is seconds
// away.
func (d *DiskCache) removeOrphan(uri string) {
	d.mu.Lock()
	_, busy := d.inflight[contentKey(uri)]
	d.mu.Unlock()
	if busy {
		return
	}
	path := filepath.Join(d.cfg.Dir, localName(uri))
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		d.logger.Warn("orphaned image removal failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	d.subtractUsage(info.Size())
}

func (d *DiskCache) subtractUsage(n int64) {
	d.mu.Lock()
	d.usage -= n
	if d.usage < 0 {
		d.usage = 0
	}
	d.mu.Unlock()
}

// CacheImage returns the local path for the URI, downloading it first if
// it is not already cached. Download failures propagate: unlike cache
// writes, the caller needs to know whether the image is usable.
func (d *DiskCache) CacheImage(ctx context.Context, uri string) (string, error) {
	if path, ok := d.GetCachedImage(uri); ok {
		return path, nil
	}

	key := contentKey(uri)
	done := d.acquire(key)
	if done != nil {
		// Another goroutine is downloading this URI; wait and re-check.
		select {
		case <-done:
		case <-ctx.Done():
			return "", errors.Wrap(errors.ErrCodeOperationTimeout, "waiting for concurrent download", ctx.Err()).
				WithComponent("imagecache").WithContext("uri", uri)
		}
		if path, ok := d.GetCachedImage(uri); ok {
			return path, nil
		}
		// The other download failed; fall through and try ourselves.
		done = d.acquire(key)
		if done != nil {
			return "", errors.NewError(errors.ErrCodeDownloadFailed, "concurrent download failed").
				WithComponent("imagecache").WithContext("uri", uri)
		}
	}
	defer d.release(key)

	path := filepath.Join(d.cfg.Dir, localName(uri))
	// A leftover file at this path is about to be overwritten; its bytes
	// must not be counted twice.
	var prior int64
	if info, err := os.Stat(path); err == nil {
		prior = info.Size()
	}
	size, err := d.download(ctx, uri, path)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.usage -= prior
	if d.usage < 0 {
		d.usage = 0
	}
	if d.usage+size > d.cfg.MaxUsage {
		d.evictLocked(d.usage + size - d.cfg.MaxUsage)
	}
	d.usage += size
	d.mu.Unlock()

	d.meta.Set(key, types.ImageEntry{
		URI:       uri,
		LocalPath: path,
		Size:      size,
		Timestamp: time.Now().UnixMilli(),
	}, nil)

	return path, nil
}

// acquire registers an in-flight download for key. It returns nil when
// the caller now owns the download, or the current owner's done channel.
func (d *DiskCache) acquire(key string) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.inflight[key]; ok {
		return ch
	}
	d.inflight[key] = make(chan struct{})
	return nil
}

func (d *DiskCache) release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.inflight[key]; ok {
		close(ch)
		delete(d.inflight, key)
	}
}

// download fetches uri into path with exponential backoff on transient
// failures, returning the byte size written.
func (d *DiskCache) download(ctx context.Context, uri, path string) (int64, error) {
	var size int64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		tmp := path + ".partial"
		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		n, err := io.Copy(f, resp.Body)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		size = n
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.cfg.MaxDownloadRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, errors.Wrap(errors.ErrCodeDownloadFailed, "download image", err).
			WithComponent("imagecache").WithContext("uri", uri)
	}
	return size, nil
}

// evictLocked frees at least need bytes by removing the globally-oldest
// cached images, deleting both the metadata record and the file.
// Callers hold d.mu.
func (d *DiskCache) evictLocked(need int64) {
	type aged struct {
		key   string
		entry types.ImageEntry
	}
	var all []aged
	for _, key := range d.meta.Keys() {
		entry, ok := cache.Get[types.ImageEntry](d.meta, key)
		if !ok {
			continue
		}
		all = append(all, aged{key: key, entry: entry})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].entry.Timestamp < all[j].entry.Timestamp
	})

	var freed int64
	for _, a := range all {
		if freed >= need {
			break
		}
		if err := os.Remove(a.entry.LocalPath); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("evict: remove image file failed",
				zap.String("path", a.entry.LocalPath), zap.Error(err))
		}
		d.meta.Delete(a.key)
		d.usage -= a.entry.Size
		freed += a.entry.Size
		d.logger.Debug("evicted cached image",
			zap.String("uri", a.entry.URI), zap.Int64("size", a.entry.Size))
	}
	if d.usage < 0 {
		d.usage = 0
	}
}

// PreloadImages caches every URI in parallel, best effort. Per-URI
// failures are logged and do not fail the batch.
func (d *DiskCache) PreloadImages(ctx context.Context, uris []string) {
	var wg sync.WaitGroup
	for _, uri := range uris {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			if _, err := d.CacheImage(ctx, uri); err != nil {
				d.logger.Warn("preload failed", zap.String("uri", uri), zap.Error(err))
			}
		}(uri)
	}
	wg.Wait()
}

// ClearCache deletes the on-disk directory, drops all metadata, and
// resets the usage counter.
func (d *DiskCache) ClearCache() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(d.cfg.Dir); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "remove image cache directory", err).
			WithComponent("imagecache").WithContext("dir", d.cfg.Dir)
	}
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "recreate image cache directory", err).
			WithComponent("imagecache").WithContext("dir", d.cfg.Dir)
	}
	d.meta.Clear()
	d.usage = 0
	return nil
}
