package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	generationMarker = ".generation"
	bodySuffix       = ".body"
	metaSuffix       = ".meta"
)

// NewFileStorage 以 basePath/caches 为根目录构建磁盘缓存，整进程复用一份实例。
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	root := filepath.Join(abs, "caches")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		root:  root,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入；genMu 串行化缓存代的创建与删除。
type fileStorage struct {
	root string

	genMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if err := s.ensureGeneration(ctx, name); err != nil {
		return nil, err
	}
	return &fileCache{storage: s, name: name}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.generationDir(name), generationMarker))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *fileStorage) Entries(ctx context.Context, name string) ([]string, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return (&fileCache{storage: s, name: name}).Keys(ctx)
}

// Delete 先把目录改名到 .trash-* 再删除，使缓存代对读者而言一次性消失。
func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	dir := s.generationDir(name)
	trash := filepath.Join(s.root, fmt.Sprintf(".trash-%s-%d", filepath.Base(dir), time.Now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("purge cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	gens := make([]generation, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name(), generationMarker))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		var gen generation
		if err := json.Unmarshal(data, &gen); err != nil {
			return nil, fmt.Errorf("decode generation %s: %w", entry.Name(), err)
		}
		gens = append(gens, gen)
	}
	return sortGenerations(gens), nil
}

func (s *fileStorage) Match(ctx context.Context, req *http.Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, ErrNotFound
	}
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := &fileCache{storage: s, name: name}
		resp, err := c.matchKey(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) ensureGeneration(ctx context.Context, name string) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	exists, err := s.Has(ctx, name)
	if err != nil || exists {
		return err
	}
	dir := s.generationDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(generation{Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return writeAtomic(ctx, filepath.Join(dir, generationMarker), bytes.NewReader(data), time.Time{})
}

func (s *fileStorage) generationDir(name string) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(name)))
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// fileCache 是单个缓存代目录的句柄，本身不持有状态。
type fileCache struct {
	storage *fileStorage
	name    string
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, req *http.Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, ErrNotFound
	}
	return c.matchKey(ctx, key)
}

func (c *fileCache) matchKey(ctx context.Context, key string) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	metaPath, bodyPath := c.entryPaths(key)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode cache meta %s: %w", key, err)
	}
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	resp.Body = body
	resp.CacheName = c.name
	return &resp, nil
}

func (c *fileCache) Put(ctx context.Context, req *http.Request, resp *Response) error {
	key, err := RequestKey(req)
	if err != nil {
		return err
	}
	return c.putKey(ctx, key, resp)
}

func (c *fileCache) PutAll(ctx context.Context, entries []Entry) error {
	written := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := c.putKey(ctx, entry.Key, entry.Response); err != nil {
			for _, key := range written {
				_, _ = c.removeKey(key)
			}
			return err
		}
		written = append(written, entry.Key)
	}
	return nil
}

// putKey 先写正文再写 meta，meta 落盘即代表条目可见。
func (c *fileCache) putKey(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("nil response for %s", key)
	}
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()

	if err := c.storage.ensureGeneration(ctx, c.name); err != nil {
		return err
	}

	stored := *resp
	stored.Key = key
	stored.Body = nil
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	metaPath, bodyPath := c.entryPaths(key)
	if err := writeAtomic(ctx, bodyPath, bytes.NewReader(resp.Body), stored.StoredAt); err != nil {
		return err
	}
	return writeAtomic(ctx, metaPath, bytes.NewReader(meta), stored.StoredAt)
}

func (c *fileCache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return false, nil
	}
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()
	return c.removeKey(key)
}

func (c *fileCache) removeKey(key string) (bool, error) {
	metaPath, bodyPath := c.entryPaths(key)
	err := os.Remove(metaPath)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return existed, err
	}
	return existed, nil
}

func (c *fileCache) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	dir := c.storage.generationDir(c.name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var meta struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &meta); err != nil || meta.Key == "" {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fileCache) entryPaths(key string) (metaPath, bodyPath string) {
	sum := sha1.Sum([]byte(key))
	base := filepath.Join(c.storage.generationDir(c.name), hex.EncodeToString(sum[:]))
	return base + metaSuffix, base + bodySuffix
}

// writeAtomic 通过临时文件 + rename 写入，失败时清理临时文件。
func writeAtomic(ctx context.Context, filePath string, body io.Reader, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(filePath, modTime, modTime); err != nil {
			return err
		}
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func sortGenerations(gens []generation) []string {
	sort.SliceStable(gens, func(i, j int) bool {
		if gens[i].CreatedAt.Equal(gens[j].CreatedAt) {
			return gens[i].Name < gens[j].Name
		}
		return gens[i].CreatedAt.Before(gens[j].CreatedAt)
	})
	names := make([]string, len(gens))
	for i, gen := range gens {
		names[i] = gen.Name
	}
	return names
}
