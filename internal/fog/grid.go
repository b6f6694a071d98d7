// 包 fog：迷雾覆盖统计。网格离散给出区域的格点总数（分母），覆盖追踪记录已访问格子（分子）与原始 GPS 点日志
package fog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
	"fog-api/internal/zone"
)

// DefaultStepDeg 约 1.1km（纬向）；省级区域格点数保持在数百量级
const DefaultStepDeg = 0.01

// CellKey：固定步长下的格子下标
type CellKey struct {
	Lat int
	Lng int
}

func (k CellKey) String() string { return strconv.Itoa(k.Lat) + ":" + strconv.Itoa(k.Lng) }

// ParseCellKey：String 的逆操作（会话恢复使用）
func ParseCellKey(s string) (CellKey, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return CellKey{}, fmt.Errorf("fog: bad cell key %q", s)
	}
	i, err := strconv.Atoi(a)
	if err != nil {
		return CellKey{}, err
	}
	j, err := strconv.Atoi(b)
	if err != nil {
		return CellKey{}, err
	}
	return CellKey{Lat: i, Lng: j}, nil
}

// 文档注释：网格离散器
// 背景：以固定经纬步长把区域包围盒切成格点，统计落在几何内的格点数作为覆盖率分母；按区域缓存，一次计算长期复用。
// 约束：格点坐标按整数下标计算（min + i*step），避免浮点累加漂移；结果下限为 1，退化区域不会产生除零。
type Grid struct {
	latStep float64
	lngStep float64

	mu     sync.Mutex
	totals map[string]int
}

func NewGrid(stepDeg float64) *Grid {
	if stepDeg <= 0 {
		stepDeg = DefaultStepDeg
	}
	return &Grid{latStep: stepDeg, lngStep: stepDeg, totals: make(map[string]int)}
}

func (g *Grid) Step() float64 { return g.latStep }

// CellKey：点所在格子
func (g *Grid) CellKey(lat, lng float64) CellKey {
	return CellKey{Lat: int(math.Floor(lat / g.latStep)), Lng: int(math.Floor(lng / g.lngStep))}
}

// Cached：已缓存的格点总数
func (g *Grid) Cached(zoneID string) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.totals[zoneID]
	return n, ok
}

// 文档注释：区域格点总数
// 背景：分母只依赖几何，不依赖玩家，因此区域完成后清理覆盖时不清除此缓存。
// 约束：计算量与包围盒面积/格子面积成正比；持锁期间计算，同一区域不会重复计算。
func (g *Grid) TotalCells(z *zone.Zone) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.totals[z.ID]; ok {
		return n
	}
	n := g.count(z.Geometry)
	if n < 1 {
		n = 1
	}
	g.totals[z.ID] = n
	logger.L().Debug("grid_total_computed", "zone", z.ID, "cells", n)
	return n
}

func (g *Grid) count(geom *geo.Geometry) int {
	b, ok := geo.Bounds(geom)
	if !ok {
		return 0
	}
	nLat := int(math.Floor((b.MaxLat-b.MinLat)/g.latStep + 1e-9))
	nLng := int(math.Floor((b.MaxLng-b.MinLng)/g.lngStep + 1e-9))
	count := 0
	for i := 0; i <= nLat; i++ {
		lat := b.MinLat + float64(i)*g.latStep
		for j := 0; j <= nLng; j++ {
			pt := geo.Point{Lat: lat, Lng: b.MinLng + float64(j)*g.lngStep}
			if geo.PointInGeometry(pt, geom) {
				count++
			}
		}
	}
	return count
}
