// 包 discovery：客户端发现引擎。汇总迷雾覆盖与到访覆盖，达到阈值时提交区域完成记录
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fog-api/internal/catalogcache"
	"fog-api/internal/fog"
	"fog-api/internal/geo"
	"fog-api/internal/logger"
	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"
)

// DefaultThreshold 完成阈值（含等于）
const DefaultThreshold = 0.5

// CatalogSource：目录来源
type CatalogSource interface {
	DataVersion(ctx context.Context) (string, error)
	// FetchCatalog 逐页拉取某版本的全部区域
	FetchCatalog(ctx context.Context, version string) ([]zone.Zone, error)
}

// ProgressionSource：完成记录来源
type ProgressionSource interface {
	ListProgressions(ctx context.Context, guildID string) ([]progression.Progression, error)
	CreateProgression(ctx context.Context, req progression.Progression) (progression.Progression, error)
}

// LocationSource：兴趣点与地标来源
type LocationSource interface {
	ListLocations(ctx context.Context) ([]visit.Location, error)
}

// SessionStore：覆盖追踪快照的持久化
type SessionStore interface {
	Save(ctx context.Context, guildID string, snap fog.Snapshot) error
	Load(ctx context.Context, guildID string) (fog.Snapshot, bool, error)
}

var ErrNotLoaded = errors.New("discovery: catalog not loaded")

type Config struct {
	GuildID          string
	Threshold        float64
	GridStepDeg      float64
	PointDedupM      float64
	LocatorTolDeg    float64
	LocatorCacheSize int
	LocatorCacheTTL  time.Duration
	CommitTimeout    time.Duration
}

// Deps：外部协作方；Locations、Cache、Sessions 可为空
type Deps struct {
	Catalog      CatalogSource
	Progressions ProgressionSource
	Facts        visit.Facts
	Locations    LocationSource
	Cache        catalogcache.Cache
	Sessions     SessionStore
}

// 文档注释：发现引擎
// 背景：每个公会会话一个实例，状态全部由实例持有。两条判定路径（GPS 迷雾覆盖、到访覆盖）共享同一阈值与同一提交协议。
// 约束：方法并发安全；互斥锁只保护本地状态，从不跨越远程调用。进程内提交锁是防止同一区域重复提交的唯一屏障：
// 远程调用前加入，无论成败都在退出时移除。提交失败只记录日志、不重试，区域保持进行中，后续采样会再次触发。
type Engine struct {
	cfg    Config
	deps   Deps
	loader *catalogcache.Loader

	grid   *fog.Grid
	fog    *fog.Tracker
	visits *visit.Tracker

	mu         sync.Mutex
	catalog    *zone.Catalog
	locator    *zone.Locator
	completed  map[string]struct{}
	committing map[string]struct{}
	touched    map[string]struct{}
	dirty      bool
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.GridStepDeg <= 0 {
		cfg.GridStepDeg = fog.DefaultStepDeg
	}
	if cfg.PointDedupM <= 0 {
		cfg.PointDedupM = fog.DefaultMinDistanceM
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	if cfg.LocatorCacheTTL <= 0 {
		cfg.LocatorCacheTTL = time.Hour
	}
	grid := fog.NewGrid(cfg.GridStepDeg)
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		grid:       grid,
		fog:        fog.NewTracker(grid, cfg.PointDedupM),
		visits:     visit.NewTracker(nil, deps.Facts),
		completed:  make(map[string]struct{}),
		committing: make(map[string]struct{}),
		touched:    make(map[string]struct{}),
	}
	e.loader = catalogcache.NewLoader(deps.Cache, deps.Catalog.FetchCatalog)
	return e
}

func (e *Engine) GuildID() string { return e.cfg.GuildID }

// 文档注释：加载会话
// 背景：按版本号取目录（本地缓存命中则不拉取几何），构建定位器，拉取地点与完成记录，最后恢复上次会话的覆盖状态。
// 约束：目录与完成记录失败即返回错误；地点与会话恢复失败只记录日志。
func (e *Engine) Load(ctx context.Context) error {
	version, err := e.deps.Catalog.DataVersion(ctx)
	if err != nil {
		return fmt.Errorf("catalog version: %w", err)
	}
	zones, err := e.loader.Load(ctx, version)
	if err != nil {
		return err
	}
	cat := zone.NewCatalog(version, zones)
	loc := zone.NewLocator(leaves(cat), e.cfg.LocatorTolDeg, zone.WithCache(e.cfg.LocatorCacheSize, e.cfg.LocatorCacheTTL))

	if e.deps.Locations != nil {
		locs, err := e.deps.Locations.ListLocations(ctx)
		if err != nil {
			logger.L().Warn("locations_load_error", "err", err)
		} else {
			e.visits = visit.NewTracker(locs, e.deps.Facts)
		}
	}

	e.mu.Lock()
	e.catalog = cat
	e.locator = loc
	e.mu.Unlock()
	logger.L().Info("catalog_ready", "version", version, "zones", cat.Len(), "orphans", cat.Orphans())

	if err := e.Refresh(ctx); err != nil {
		return err
	}
	e.restoreSession(ctx)
	return nil
}

// leaves：有几何且没有子节点的区域，按目录顺序
func leaves(cat *zone.Catalog) []*zone.Zone {
	var out []*zone.Zone
	for _, z := range cat.All() {
		if len(cat.Children(z.ID)) == 0 && z.Geometry != nil && !z.Geometry.Empty() {
			out = append(out, z)
		}
	}
	return out
}

// 文档注释：全量同步完成记录
// 背景：级联发生在服务端，客户端只能通过重新拉取看到被自动完成的上级区域。
// 约束：本地完成集合只增不减；失败时标记为脏，下一次判定前重试。
func (e *Engine) Refresh(ctx context.Context) error {
	rows, err := e.deps.Progressions.ListProgressions(ctx, e.cfg.GuildID)
	if err != nil {
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		return fmt.Errorf("list progressions: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range rows {
		if !p.IsCompleted {
			continue
		}
		ref, err := p.Ref()
		if err != nil {
			continue
		}
		e.completed[ref.ID] = struct{}{}
		n++
	}
	e.dirty = false
	logger.L().Debug("progressions_synced", "guild", e.cfg.GuildID, "rows", len(rows), "completed", n)
	return nil
}

func (e *Engine) ensureFresh(ctx context.Context) {
	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()
	if !dirty {
		return
	}
	if err := e.Refresh(ctx); err != nil {
		logger.L().Warn("progressions_resync_error", "guild", e.cfg.GuildID, "err", err)
	}
}

// IsCompleted：区域（任一层级）是否已完成
func (e *Engine) IsCompleted(zoneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.completed[zoneID]
	return ok
}

// Dirty：上一次同步是否失败
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

func (e *Engine) locate(pt geo.Point) (*zone.Zone, error) {
	e.mu.Lock()
	loc := e.locator
	e.mu.Unlock()
	if loc == nil {
		return nil, ErrNotLoaded
	}
	return loc.FindZoneForPoint(pt), nil
}

// Zone：按 id 取目录中的区域
func (e *Engine) Zone(zoneID string) (*zone.Zone, bool) {
	e.mu.Lock()
	cat := e.catalog
	e.mu.Unlock()
	if cat == nil {
		return nil, false
	}
	return cat.Get(zoneID)
}
