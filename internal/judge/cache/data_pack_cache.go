// Package cache keeps extracted problem data packs on local disk.
package cache

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeromicro/go-zero/core/syncx"
	"go.uber.org/zap"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const (
	metaFileName  = "meta.json"
	tempFileName  = "data-pack.tmp"
	lockKeyPrefix = "judge:datapack:lock:"
	lockTTL       = 5 * time.Minute
)

// Config controls the local data pack cache.
type Config struct {
	RootDir    string        `yaml:"rootDir"`
	TTL        time.Duration `yaml:"ttl"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxBytes   int64         `yaml:"maxBytes"`
	// MaxPackBytes rejects compressed packs larger than this before download.
	MaxPackBytes int64  `yaml:"maxPackBytes"`
	Bucket       string `yaml:"bucket"`
}

type cacheEntry struct {
	key       string
	path      string
	sizeBytes int64
	expiresAt time.Time
}

// DataPackCache downloads, verifies and extracts data packs, sharing one
// download per pack across goroutines and, through a Redis lock, across hosts
// sharing the cache directory.
type DataPackCache struct {
	cfg     Config
	storage storage.ObjectStorage
	lock    cache.LockOps
	flight  syncx.SingleFlight

	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lruKeys   []string
	totalSize int64
}

// NewDataPackCache creates a new cache. lock may be nil for a single host.
func NewDataPackCache(cfg Config, storageClient storage.ObjectStorage, lock cache.LockOps) *DataPackCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &DataPackCache{
		cfg:     cfg,
		storage: storageClient,
		lock:    lock,
		flight:  syncx.NewSingleFlight(),
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the local directory holding the extracted pack of meta.
func (c *DataPackCache) Get(ctx context.Context, meta model.ProblemMeta) (string, error) {
	if !validProblemID(meta.ProblemID) {
		return "", appErr.ValidationError("problem_id", "invalid")
	}
	if c.storage == nil {
		return "", appErr.New(appErr.CacheError).WithMessage("storage client is not initialized")
	}
	if c.cfg.RootDir == "" {
		return "", appErr.New(appErr.CacheError).WithMessage("cache root is not configured")
	}
	key := cacheKey(meta.ProblemID, meta.Version)
	path := filepath.Join(c.cfg.RootDir, meta.ProblemID, fmt.Sprintf("%d", meta.Version))

	if c.hitEntry(key) && c.checkDisk(path, meta) {
		return path, nil
	}

	_, err := c.flight.Do(key, func() (any, error) {
		if c.checkDisk(path, meta) {
			return nil, nil
		}
		return nil, c.fetchAndExtract(ctx, meta, path)
	})
	if err != nil {
		return "", err
	}
	c.addEntry(key, path)
	return path, nil
}

func (c *DataPackCache) hitEntry(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntryLocked(key)
		return false
	}
	entry.expiresAt = time.Now().Add(c.cfg.TTL)
	c.touchLocked(key)
	return true
}

func (c *DataPackCache) checkDisk(path string, meta model.ProblemMeta) bool {
	data, err := os.ReadFile(filepath.Join(path, metaFileName))
	if err != nil {
		return false
	}
	var stored model.ProblemMeta
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	if stored.DataPackHash != meta.DataPackHash || stored.DataPackKey != meta.DataPackKey || stored.UpdatedAt != meta.UpdatedAt {
		return false
	}
	if _, err := os.Stat(filepath.Join(path, model.ManifestFileName)); err != nil {
		return false
	}
	return true
}

func (c *DataPackCache) fetchAndExtract(ctx context.Context, meta model.ProblemMeta, path string) error {
	if c.lock != nil {
		lockKey := lockKeyPrefix + cacheKey(meta.ProblemID, meta.Version)
		token := uuid.NewString()
		locked, err := c.lock.TryLock(ctx, lockKey, token, lockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire data pack lock failed")
		}
		if !locked {
			return c.waitForCache(ctx, meta, path)
		}
		stop := c.keepLock(lockKey, token)
		defer func() {
			stop()
			_ = c.lock.Unlock(context.Background(), lockKey, token)
		}()
		if c.checkDisk(path, meta) {
			return nil
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache dir failed")
	}

	start := time.Now()
	tempPath := filepath.Join(path, tempFileName)
	if err := c.downloadDataPack(ctx, meta, tempPath); err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	if err := extractDataPack(tempPath, path); err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	_ = os.Remove(tempPath)

	metaBytes, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(path, metaFileName), metaBytes, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write meta failed")
	}
	logger.Info(ctx, "data pack cached",
		zap.String("problem_id", meta.ProblemID),
		zap.Int32("version", meta.Version),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// keepLock extends the lock until the returned stop is called.
func (c *DataPackCache) keepLock(key, token string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if ok, err := c.lock.ExtendLock(context.Background(), key, token, lockTTL); err != nil || !ok {
					logger.Warn(context.Background(), "extend data pack lock failed", zap.String("key", key), zap.Error(err))
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (c *DataPackCache) waitForCache(ctx context.Context, meta model.ProblemMeta, path string) error {
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		if c.checkDisk(path, meta) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for data pack cache timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *DataPackCache) downloadDataPack(ctx context.Context, meta model.ProblemMeta, dstPath string) error {
	if meta.DataPackKey == "" {
		return appErr.ValidationError("data_pack_key", "required")
	}
	if c.cfg.MaxPackBytes > 0 {
		stat, err := c.storage.StatObject(ctx, c.cfg.Bucket, meta.DataPackKey)
		if err != nil {
			return packFetchError(err, meta, "stat data pack failed")
		}
		if stat.SizeBytes > c.cfg.MaxPackBytes {
			return appErr.Newf(appErr.CacheError, "data pack is %d bytes, limit %d", stat.SizeBytes, c.cfg.MaxPackBytes)
		}
	}
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, meta.DataPackKey)
	if err != nil {
		return packFetchError(err, meta, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(file, io.TeeReader(reader, hasher)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	if meta.DataPackHash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, meta.DataPackHash) {
			return appErr.New(appErr.CacheError).WithMessage("data pack hash mismatch")
		}
	}
	return nil
}

func packFetchError(err error, meta model.ProblemMeta, msg string) error {
	if appErr.Is(err, appErr.NotFound) {
		return appErr.Wrapf(err, appErr.TestCaseNotFound, "data pack %s for problem %s is missing", meta.DataPackKey, meta.ProblemID)
	}
	return appErr.Wrapf(err, appErr.CacheError, "%s", msg)
}

func extractDataPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open data pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		target, err := resolveInDir(dstDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&0644|0400)
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			_ = out.Close()
		default:
			// links and devices are never followed
		}
	}
	return nil
}

// resolveInDir joins a relative pack path onto dir, refusing escapes.
func resolveInDir(dir, name string) (string, error) {
	cleanName := filepath.Clean(name)
	if cleanName == "." || strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
		return "", appErr.Newf(appErr.CacheError, "invalid pack entry path %q", name)
	}
	target := filepath.Join(dir, cleanName)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", appErr.Newf(appErr.CacheError, "pack entry %q escapes the pack root", name)
	}
	return target, nil
}

func (c *DataPackCache) addEntry(key, path string) {
	size := dirSize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
	}
	c.entries[key] = &cacheEntry{
		key:       key,
		path:      path,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.cfg.TTL),
	}
	c.totalSize += size
	c.touchLocked(key)
	c.evictLocked(key)
}

func (c *DataPackCache) touchLocked(key string) {
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, key)
}

// evictLocked drops least recently used packs, never the one just added.
func (c *DataPackCache) evictLocked(keep string) {
	for len(c.lruKeys) > 1 {
		overEntries := c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries
		overBytes := c.cfg.MaxBytes > 0 && c.totalSize > c.cfg.MaxBytes
		if !overEntries && !overBytes {
			return
		}
		oldest := c.lruKeys[0]
		if oldest == keep {
			return
		}
		c.lruKeys = c.lruKeys[1:]
		c.removeEntryLocked(oldest)
	}
}

func (c *DataPackCache) removeEntryLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.totalSize -= entry.sizeBytes
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	_ = os.RemoveAll(entry.path)
}

// Len reports the number of tracked packs.
func (c *DataPackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func validProblemID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id && !strings.ContainsAny(id, `/\`)
}

func cacheKey(problemID string, version int32) string {
	return fmt.Sprintf("%s:%d", problemID, version)
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
