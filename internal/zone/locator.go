package zone

import (
	"math"
	"time"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
)

// DefaultToleranceDeg 约 11km（纬向）
const DefaultToleranceDeg = 0.1

const cachePrecision = 9

// 文档注释：区域定位器（质心粗过滤 → 射线法精确判定）
// 背景：每个 GPS 采样都要定位一次；先以质心经纬差排除远处候选，再按目录顺序做精确判定。
// 约束：容差会自动放宽到不小于任一候选的最大半幅（质心到包围盒边的距离），保证粗过滤不会排除真正包含该点的区域。
// 几何重叠属于数据错误，此时目录顺序中第一个命中者胜出。
type Locator struct {
	cands  []*Zone
	cents  []geo.Point
	hasGeo []bool
	tolLat float64
	tolLng float64
	byID   map[string]*Zone
	cache  *LRU
}

type LocatorOption func(*Locator)

// WithCache：启用定位缓存；capacity<=0 表示关闭
func WithCache(capacity int, ttl time.Duration) LocatorOption {
	return func(l *Locator) {
		if capacity > 0 {
			l.cache = NewLRU(capacity, ttl)
		}
	}
}

// NewLocator：以候选集合（目录顺序）构造定位器
func NewLocator(cands []*Zone, tolDeg float64, opts ...LocatorOption) *Locator {
	if tolDeg <= 0 {
		tolDeg = DefaultToleranceDeg
	}
	l := &Locator{
		cands:  cands,
		cents:  make([]geo.Point, len(cands)),
		hasGeo: make([]bool, len(cands)),
		tolLat: tolDeg,
		tolLng: tolDeg,
		byID:   make(map[string]*Zone, len(cands)),
	}
	for i, z := range cands {
		if _, dup := l.byID[z.ID]; !dup {
			l.byID[z.ID] = z
		}
		c, ok := geo.Centroid(z.Geometry)
		b, okb := geo.Bounds(z.Geometry)
		if !ok || !okb {
			logger.L().Debug("locator_zone_without_geometry", "id", z.ID)
			continue
		}
		l.cents[i] = c
		l.hasGeo[i] = true
		halfLat := math.Max(b.MaxLat-c.Lat, c.Lat-b.MinLat)
		halfLng := math.Max(b.MaxLng-c.Lng, c.Lng-b.MinLng)
		if halfLat > l.tolLat {
			l.tolLat = halfLat
		}
		if halfLng > l.tolLng {
			l.tolLng = halfLng
		}
	}
	for _, o := range opts {
		o(l)
	}
	logger.L().Debug("locator_built", "candidates", len(cands), "tol_lat", l.tolLat, "tol_lng", l.tolLng)
	return l
}

// Tolerance：实际生效的粗过滤容差（纬度, 经度）
func (l *Locator) Tolerance() (float64, float64) { return l.tolLat, l.tolLng }

// 文档注释：查找包含该点的区域
// 返回：目录顺序中第一个包含该点的候选；无命中返回 nil。
// 约束：缓存只记录同一 geohash 格子上次命中的区域，作为优先尝试对象；几何不重叠时结果与关闭缓存一致。
func (l *Locator) FindZoneForPoint(pt geo.Point) *Zone {
	var key string
	if l.cache != nil {
		key = encodeGeohash(pt.Lat, pt.Lng, cachePrecision)
		// 同一格子内的点可能落在不同区域，命中后仍需精确判定
		if id, ok := l.cache.Get(key); ok {
			if z, ok := l.byID[id]; ok && z.Contains(pt) {
				return z
			}
		}
	}
	for i, z := range l.cands {
		if !l.hasGeo[i] {
			continue
		}
		c := l.cents[i]
		if math.Abs(pt.Lat-c.Lat) > l.tolLat || math.Abs(pt.Lng-c.Lng) > l.tolLng {
			continue
		}
		if z.Contains(pt) {
			if l.cache != nil {
				l.cache.Set(key, z.ID)
			}
			return z
		}
	}
	return nil
}
