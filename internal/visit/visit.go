// 包 visit：基于兴趣点到访事实的区域覆盖率（宝箱开启、博物馆远征）
package visit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
	"fog-api/internal/zone"

	"golang.org/x/sync/errgroup"
)

// Kind：可追踪地点类型
type Kind string

const (
	KindChest  Kind = "chest"
	KindMuseum Kind = "museum"
)

// Location：已知兴趣点/地标
type Location struct {
	ID   string  `json:"id"`
	Kind Kind    `json:"kind"`
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (l Location) Point() geo.Point { return geo.Point{Lat: l.Lat, Lng: l.Lng} }

// Facts：到访/远征事实来源（外部子系统）
type Facts interface {
	HasVisitedPOI(ctx context.Context, guildID, poiID string) (bool, error)
	HasRunExpedition(ctx context.Context, guildID, museumID string) (bool, error)
}

// Coverage：一次覆盖率计算结果
type Coverage struct {
	Visited int
	Total   int
	Ratio   float64
}

const defaultConcurrency = 8

// 文档注释：到访覆盖追踪
// 背景：区域内的兴趣点与地标任一被访问过即计入；比例达到阈值同样可以完成区域。
// 约束：区域内没有可追踪地点时弃权（ok=false），只能走迷雾覆盖路径；事实查询并发上限 8；
// 到访事实只增不减，已确认的“已访问”在进程内缓存，避免重复查询。
type Tracker struct {
	locations   []Location
	facts       Facts
	concurrency int

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewTracker(locations []Location, facts Facts) *Tracker {
	return &Tracker{locations: locations, facts: facts, concurrency: defaultConcurrency, seen: make(map[string]struct{})}
}

// LocationsIn：落在区域几何内的地点（目录顺序）
func (t *Tracker) LocationsIn(z *zone.Zone) []Location {
	var out []Location
	for _, l := range t.locations {
		if z.Contains(l.Point()) {
			out = append(out, l)
		}
	}
	return out
}

func seenKey(guildID string, l Location) string { return guildID + "|" + string(l.Kind) + "|" + l.ID }

func (t *Tracker) visited(ctx context.Context, guildID string, l Location) (bool, error) {
	key := seenKey(guildID, l)
	t.mu.Lock()
	_, ok := t.seen[key]
	t.mu.Unlock()
	if ok {
		return true, nil
	}
	var v bool
	var err error
	switch l.Kind {
	case KindMuseum:
		v, err = t.facts.HasRunExpedition(ctx, guildID, l.ID)
	default:
		v, err = t.facts.HasVisitedPOI(ctx, guildID, l.ID)
	}
	if err != nil {
		return false, err
	}
	if v {
		t.mu.Lock()
		t.seen[key] = struct{}{}
		t.mu.Unlock()
	}
	return v, nil
}

// 文档注释：区域到访覆盖率
// 返回：ok=false 表示区域内没有可追踪地点（弃权）；任一事实查询失败则返回错误，本次不参与判定。
func (t *Tracker) CoverageRatio(ctx context.Context, guildID string, z *zone.Zone) (Coverage, bool, error) {
	locs := t.LocationsIn(z)
	if len(locs) == 0 {
		return Coverage{}, false, nil
	}
	results := make([]bool, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, l := range locs {
		i, l := i, l
		g.Go(func() error {
			v, err := t.visited(gctx, guildID, l)
			if err != nil {
				return fmt.Errorf("visit fact %s/%s: %w", l.Kind, l.ID, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Coverage{}, false, err
	}
	c := Coverage{Total: len(locs)}
	for _, v := range results {
		if v {
			c.Visited++
		}
	}
	c.Ratio = float64(c.Visited) / float64(c.Total)
	logger.L().Debug("visit_coverage", "guild", guildID, "zone", z.ID, "visited", c.Visited, "total", c.Total)
	return c, true, nil
}

// LoadLocationsFile：读取地点列表 JSON（数组）
func LoadLocationsFile(path string) ([]Location, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Location
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Kind == "" {
			out[i].Kind = KindChest
		}
	}
	return out, nil
}
