// 包 catalogcache：按数据版本缓存完整区域目录；服务端使用 Redis，客户端使用本地文件
package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/zone"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache：目录缓存；未命中返回 ok=false 且 err=nil
type Cache interface {
	Get(ctx context.Context, version string) ([]zone.Zone, bool, error)
	Put(ctx context.Context, version string, zones []zone.Zone) error
}

// 文档注释：Redis 目录缓存
// 背景：目录在版本不变时完全不变，整份序列化为 JSON 存入单个键；版本变更即换键，旧键随 TTL 过期。
// 约束：rc 为 nil 时恒未命中、写入为空操作，不阻断主流程。
type RedisCache struct {
	rc     *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl, prefix: "fog:catalog:"}
}

func (c *RedisCache) Get(ctx context.Context, version string) ([]zone.Zone, bool, error) {
	if c == nil || c.rc == nil {
		return nil, false, nil
	}
	b, err := c.rc.Get(ctx, c.prefix+version).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CatalogCacheTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("redis", "error").Inc()
		return nil, false, err
	}
	var zones []zone.Zone
	if err := json.Unmarshal(b, &zones); err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("redis", "error").Inc()
		return nil, false, fmt.Errorf("decode cached catalog %s: %w", version, err)
	}
	metrics.CatalogCacheTotal.WithLabelValues("redis", "hit").Inc()
	return zones, true, nil
}

func (c *RedisCache) Put(ctx context.Context, version string, zones []zone.Zone) error {
	if c == nil || c.rc == nil {
		return nil
	}
	b, err := json.Marshal(zones)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, c.prefix+version, b, c.ttl).Err()
}

// 文档注释：本地文件目录缓存
// 背景：客户端离线重启后无需重新拉取全部几何；文件名 catalog-<version>.json，写入新版本时删除旧版本文件。
// 约束：先写临时文件再 rename，避免中断留下半个文件。
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache { return &FileCache{dir: dir} }

func (c *FileCache) path(version string) string {
	return filepath.Join(c.dir, "catalog-"+sanitize(version)+".json")
}

func (c *FileCache) Get(ctx context.Context, version string) ([]zone.Zone, bool, error) {
	b, err := os.ReadFile(c.path(version))
	if errors.Is(err, os.ErrNotExist) {
		metrics.CatalogCacheTotal.WithLabelValues("file", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("file", "error").Inc()
		return nil, false, err
	}
	var zones []zone.Zone
	if err := json.Unmarshal(b, &zones); err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("file", "error").Inc()
		return nil, false, fmt.Errorf("decode %s: %w", c.path(version), err)
	}
	metrics.CatalogCacheTotal.WithLabelValues("file", "hit").Inc()
	return zones, true, nil
}

func (c *FileCache) Put(ctx context.Context, version string, zones []zone.Zone) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(zones)
	if err != nil {
		return err
	}
	target := c.path(version)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		return err
	}
	old, _ := filepath.Glob(filepath.Join(c.dir, "catalog-*.json"))
	for _, p := range old {
		if p != target {
			_ = os.Remove(p)
		}
	}
	logger.L().Debug("catalog_file_written", "path", target, "zones", len(zones))
	return nil
}

func sanitize(version string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, version)
}

// Chain：按顺序查找，后层命中时回填前层
type Chain []Cache

func (c Chain) Get(ctx context.Context, version string) ([]zone.Zone, bool, error) {
	for i, tier := range c {
		if tier == nil {
			continue
		}
		zones, ok, err := tier.Get(ctx, version)
		if err != nil {
			logger.L().Warn("catalog_cache_get_error", "tier", i, "err", err)
			continue
		}
		if ok {
			for _, front := range c[:i] {
				if front != nil {
					_ = front.Put(ctx, version, zones)
				}
			}
			return zones, true, nil
		}
	}
	return nil, false, nil
}

func (c Chain) Put(ctx context.Context, version string, zones []zone.Zone) error {
	var errs []error
	for _, tier := range c {
		if tier != nil {
			if err := tier.Put(ctx, version, zones); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ClientTiers：客户端缓存层级。本地文件在前；Redis 可用时作为第二层，多个客户端共享同一份目录
func ClientTiers(dir string, rc *redis.Client, ttl time.Duration) Cache {
	file := NewFileCache(dir)
	if rc == nil {
		return file
	}
	return Chain{file, NewRedisCache(rc, ttl)}
}

// FetchFunc：从权威来源拉取某版本的完整目录
type FetchFunc func(ctx context.Context, version string) ([]zone.Zone, error)

// 文档注释：读穿加载器
// 背景：同一版本的并发加载合并为一次拉取（singleflight）；拉取成功后写回缓存，写回失败只记录日志。
type Loader struct {
	cache Cache
	fetch FetchFunc
	group singleflight.Group
}

func NewLoader(cache Cache, fetch FetchFunc) *Loader {
	return &Loader{cache: cache, fetch: fetch}
}

func (l *Loader) Load(ctx context.Context, version string) ([]zone.Zone, error) {
	if l.cache != nil {
		zones, ok, err := l.cache.Get(ctx, version)
		if err != nil {
			logger.L().Warn("catalog_cache_get_error", "version", version, "err", err)
		}
		if ok {
			return zones, nil
		}
	}
	v, err, shared := l.group.Do(version, func() (any, error) {
		if l.cache != nil {
			if zones, ok, _ := l.cache.Get(ctx, version); ok {
				return zones, nil
			}
		}
		zones, err := l.fetch(ctx, version)
		if err != nil {
			return nil, err
		}
		if l.cache != nil {
			if err := l.cache.Put(ctx, version, zones); err != nil {
				logger.L().Warn("catalog_cache_put_error", "version", version, "err", err)
			}
		}
		return zones, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w", version, err)
	}
	logger.L().Debug("catalog_loaded", "version", version, "shared", shared)
	return v.([]zone.Zone), nil
}
