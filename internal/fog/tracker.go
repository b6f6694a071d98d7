package fog

import (
	"sync"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
	"fog-api/internal/zone"
)

// DefaultMinDistanceM 点日志去重距离
const DefaultMinDistanceM = 20.0

// 文档注释：迷雾覆盖追踪
// 背景：每个区域维护已访问格子集合（覆盖率分子）；另存原始 GPS 点日志，供会话恢复与区域完成后的存储回收。
// 约束：已访问格子数可能因网格/几何近似而超过分母，不做截断也不报错；并发安全。
type Tracker struct {
	grid    *Grid
	minDist float64

	mu      sync.Mutex
	visited map[string]map[CellKey]struct{}
	points  []geo.Point
	last    *geo.Point
}

func NewTracker(grid *Grid, minDistM float64) *Tracker {
	if minDistM < 0 {
		minDistM = DefaultMinDistanceM
	}
	return &Tracker{grid: grid, minDist: minDistM, visited: make(map[string]map[CellKey]struct{})}
}

func (t *Tracker) Grid() *Grid { return t.grid }

// 文档注释：追加 GPS 点到日志
// 约束：与上一次记录点的距离不超过去重距离时丢弃；上一次记录点在区域清理后仍作为参照。
// 返回：是否写入。
func (t *Tracker) LogPoint(pt geo.Point) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last != nil && geo.DistanceMeters(*t.last, pt) <= t.minDist {
		return false
	}
	t.points = append(t.points, pt)
	p := pt
	t.last = &p
	return true
}

// Points：点日志副本
func (t *Tracker) Points() []geo.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]geo.Point(nil), t.points...)
}

// 文档注释：登记格子
// 返回：是否为该区域的新格子；false 时调用方可跳过后续覆盖率计算。
func (t *Tracker) AddGridCell(zoneID string, lat, lng float64) bool {
	key := t.grid.CellKey(lat, lng)
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.visited[zoneID]
	if !ok {
		set = make(map[CellKey]struct{})
		t.visited[zoneID] = set
	}
	if _, seen := set[key]; seen {
		return false
	}
	set[key] = struct{}{}
	return true
}

// VisitedCells：区域已访问格子数
func (t *Tracker) VisitedCells(zoneID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visited[zoneID])
}

// CoverageRatio：已访问格子数 / max(格点总数, 1)；总数取网格缓存，调用方需先触发 Grid.TotalCells
func (t *Tracker) CoverageRatio(zoneID string) float64 {
	total, _ := t.grid.Cached(zoneID)
	if total < 1 {
		total = 1
	}
	return float64(t.VisitedCells(zoneID)) / float64(total)
}

// 文档注释：回收已完成区域内的点
// 背景：长时间游玩时点日志无限增长；区域完成后其内部的点不再有意义。
// 返回：移除的点数。
func (t *Tracker) RemovePointsInZones(zones []*zone.Zone) int {
	if len(zones) == 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.points[:0]
	removed := 0
	for _, pt := range t.points {
		in := false
		for _, z := range zones {
			if z.Contains(pt) {
				in = true
				break
			}
		}
		if in {
			removed++
			continue
		}
		kept = append(kept, pt)
	}
	for i := len(kept); i < len(t.points); i++ {
		t.points[i] = geo.Point{}
	}
	t.points = kept
	logger.L().Debug("fog_points_evicted", "zones", len(zones), "removed", removed, "remaining", len(kept))
	return removed
}

// ClearGridForZone：丢弃区域的已访问格子；格点总数缓存保留
func (t *Tracker) ClearGridForZone(zoneID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.visited, zoneID)
}
