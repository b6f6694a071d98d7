package geo

// 文档注释：点入环判定（Even-Odd 射线法）
// 背景：区域定位、网格统计与点日志清理共用同一判定，保证三处结果一致。
// 约束：半开区间判定，(yi > y) != (yj > y) 排除水平边；落在上边界/右边界的点视为在外。结果对同一输入确定。
func PointInRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x := pt.Lng
	y := pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lng, ring[i].Lat
		xj, yj := ring[j].Lng, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// 外环命中即视为命中；洞被忽略
func pointInPolygon(pt Point, poly Polygon) bool {
	if len(poly.Rings) == 0 {
		return false
	}
	if poly.BBox != (BBox{}) && !poly.BBox.Contains(pt) {
		return false
	}
	return PointInRing(pt, poly.Rings[0])
}

// 文档注释：点入几何判定
// 背景：Polygon 仅判定第 0 环；MultiPolygon 任一成员外环命中即为命中。
// 约束：几何缺失（nil/空）返回 false，不视为错误。
func PointInGeometry(pt Point, g *Geometry) bool {
	if g == nil {
		return false
	}
	for _, p := range g.Polygons {
		if pointInPolygon(pt, p) {
			return true
		}
	}
	return false
}
