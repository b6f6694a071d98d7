package geo

import "math"

// 包围盒（经纬度）
type BBox struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// emptyBBox 以 ±Inf 起始，未见任何坐标时保持退化状态
func emptyBBox() BBox {
	return BBox{MinLat: math.Inf(1), MinLng: math.Inf(1), MaxLat: math.Inf(-1), MaxLng: math.Inf(-1)}
}

// Degenerate：未包含任何坐标
func (b BBox) Degenerate() bool {
	return math.IsInf(b.MinLat, 1) || b.MinLat > b.MaxLat || b.MinLng > b.MaxLng
}

// Contains：快速包围盒过滤（闭区间，精确判定交给射线法）
func (b BBox) Contains(pt Point) bool {
	if b.Degenerate() {
		return false
	}
	return pt.Lng >= b.MinLng && pt.Lng <= b.MaxLng && pt.Lat >= b.MinLat && pt.Lat <= b.MaxLat
}

func (b BBox) extend(pt Point) BBox {
	if pt.Lat < b.MinLat {
		b.MinLat = pt.Lat
	}
	if pt.Lat > b.MaxLat {
		b.MaxLat = pt.Lat
	}
	if pt.Lng < b.MinLng {
		b.MinLng = pt.Lng
	}
	if pt.Lng > b.MaxLng {
		b.MaxLng = pt.Lng
	}
	return b
}

func (b BBox) union(o BBox) BBox {
	if o.Degenerate() {
		return b
	}
	b = b.extend(Point{Lat: o.MinLat, Lng: o.MinLng})
	return b.extend(Point{Lat: o.MaxLat, Lng: o.MaxLng})
}

func ringsBBox(rings [][]Point) BBox {
	b := emptyBBox()
	for _, r := range rings {
		for _, pt := range r {
			b = b.extend(pt)
		}
	}
	return b
}

// 文档注释：几何整体包围盒
// 背景：网格离散以包围盒为迭代范围；Polygon 与 MultiPolygon 的所有环都参与计算。
// 返回：ok=false 表示几何缺失或没有任何坐标（退化区域）。
func Bounds(g *Geometry) (BBox, bool) {
	b := emptyBBox()
	if g == nil {
		return b, false
	}
	for _, p := range g.Polygons {
		b = b.union(ringsBBox(p.Rings))
	}
	return b, !b.Degenerate()
}

// 文档注释：几何质心（外环顶点均值）
// 背景：仅用于定位前的粗过滤，精度要求低；闭合环的重复末点不计入。
// 返回：ok=false 表示几何缺失。
func Centroid(g *Geometry) (Point, bool) {
	if g == nil {
		return Point{}, false
	}
	var sumLat, sumLng float64
	n := 0
	for _, p := range g.Polygons {
		if len(p.Rings) == 0 {
			continue
		}
		ring := p.Rings[0]
		if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
			ring = ring[:len(ring)-1]
		}
		for _, pt := range ring {
			sumLat += pt.Lat
			sumLng += pt.Lng
			n++
		}
	}
	if n == 0 {
		return Point{}, false
	}
	return Point{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}, true
}
