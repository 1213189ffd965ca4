package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelGenerationPrefix = "g/"
	levelEntryPrefix      = "e/"
	levelKeySeparator     = "\x00"
)

// levelStorage 把所有缓存代放进同一个 leveldb：
//
//	g/<name>              -> generation JSON
//	e/<name>\x00<key>     -> Response JSON（含正文）
//
// 批量写入与整代删除都经由 leveldb.Batch 一次提交。
type levelStorage struct {
	db    *leveldb.DB
	genMu sync.Mutex
}

// NewLevelStorage 在 basePath/leveldb 打开（或创建）数据库。
func NewLevelStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	db, err := leveldb.OpenFile(filepath.Join(abs, "leveldb"), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStorage{db: db}, nil
}

func (s *levelStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateLevelName(name); err != nil {
		return nil, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	batch := new(leveldb.Batch)
	if err := s.stageGeneration(batch, name); err != nil {
		return nil, err
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return nil, wrapLevelErr(err)
		}
	}
	return &levelCache{storage: s, name: name}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	ok, err := s.db.Has([]byte(levelGenerationPrefix+name), nil)
	return ok, wrapLevelErr(err)
}

func (s *levelStorage) Entries(ctx context.Context, name string) ([]string, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return (&levelCache{storage: s, name: name}).Keys(ctx)
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(levelGenerationPrefix + name))
	iter := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, wrapLevelErr(err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, wrapLevelErr(err))
	}
	return true, nil
}

func (s *levelStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(levelGenerationPrefix)), nil)
	defer iter.Release()

	var gens []generation
	for iter.Next() {
		var gen generation
		if err := json.Unmarshal(iter.Value(), &gen); err != nil {
			return nil, fmt.Errorf("decode generation %s: %w", iter.Key(), err)
		}
		gens = append(gens, gen)
	}
	if err := iter.Error(); err != nil {
		return nil, wrapLevelErr(err)
	}
	return sortGenerations(gens), nil
}

func (s *levelStorage) Match(ctx context.Context, req *http.Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, ErrNotFound
	}
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := &levelCache{storage: s, name: name}
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

func (s *levelStorage) Close() error {
	return s.db.Close()
}

// stageGeneration 在缓存代不存在时把索引项加入 batch。
func (s *levelStorage) stageGeneration(batch *leveldb.Batch, name string) error {
	genKey := []byte(levelGenerationPrefix + name)
	exists, err := s.db.Has(genKey, nil)
	if err != nil {
		return wrapLevelErr(err)
	}
	if exists {
		return nil
	}
	data, err := json.Marshal(generation{Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	batch.Put(genKey, data)
	return nil
}

type levelCache struct {
	storage *levelStorage
	name    string
}

func (c *levelCache) Name() string {
	return c.name
}

func (c *levelCache) Match(ctx context.Context, req *http.Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, ErrNotFound
	}
	return c.matchKey(ctx, key)
}

func (c *levelCache) matchKey(ctx context.Context, key string) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	data, err := c.storage.db.Get(entryKey(c.name, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapLevelErr(err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	resp.CacheName = c.name
	return &resp, nil
}

func (c *levelCache) Put(ctx context.Context, req *http.Request, resp *Response) error {
	key, err := RequestKey(req)
	if err != nil {
		return err
	}
	return c.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll 所有条目与缓存代索引同批提交，天然全有或全无。
func (c *levelCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.storage.genMu.Lock()
	defer c.storage.genMu.Unlock()

	batch := new(leveldb.Batch)
	if err := c.storage.stageGeneration(batch, c.name); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Response == nil {
			return fmt.Errorf("nil response for %s", entry.Key)
		}
		stored := *entry.Response
		stored.Key = entry.Key
		if stored.StoredAt.IsZero() {
			stored.StoredAt = time.Now().UTC()
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		batch.Put(entryKey(c.name, entry.Key), data)
	}
	return wrapLevelErr(c.storage.db.Write(batch, nil))
}

func (c *levelCache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return false, nil
	}
	dbKey := entryKey(c.name, key)
	exists, err := c.storage.db.Has(dbKey, nil)
	if err != nil || !exists {
		return false, wrapLevelErr(err)
	}
	return true, wrapLevelErr(c.storage.db.Delete(dbKey, nil))
}

func (c *levelCache) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	prefix := entryPrefix(c.name)
	iter := c.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, wrapLevelErr(err)
	}
	sort.Strings(keys)
	return keys, nil
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + levelKeySeparator)
}

func entryKey(name, key string) []byte {
	return append(entryPrefix(name), key...)
}

func validateLevelName(name string) error {
	if name == "" {
		return errors.New("cache name required")
	}
	if strings.Contains(name, levelKeySeparator) {
		return fmt.Errorf("cache name %q contains NUL", name)
	}
	return nil
}

func wrapLevelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrStoreClosed
	}
	return err
}
