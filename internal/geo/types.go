// 包 geo：几何基础类型与判定（点入面、包围盒、质心、球面距离），供区域定位与网格离散复用
package geo

import (
	"encoding/json"
	"errors"
	"strings"
)

// 点坐标（WGS84）
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
// 约束：洞仅保留用于回写，判定与网格统计只使用外环
type Polygon struct {
	Rings [][]Point
	BBox  BBox
}

// 文档注释：行政区几何（GeoJSON Polygon/MultiPolygon 统一为多面列表）
// 背景：区域目录以 GeoJSON 交付；统一为 []Polygon 后判定逻辑只需处理一种结构。
// 约束：Type 保留原始类型名（Polygon/MultiPolygon）；其他类型解析为空几何，视为“不包含任何点”。
type Geometry struct {
	Type     string
	Polygons []Polygon
}

const (
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
)

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Empty：几何缺失或无任何坐标
func (g *Geometry) Empty() bool {
	if g == nil {
		return true
	}
	for _, p := range g.Polygons {
		if len(p.Rings) > 0 && len(p.Rings[0]) > 0 {
			return false
		}
	}
	return true
}

// UnmarshalJSON：解析 GeoJSON 几何对象；null 与未知类型得到空几何
func (g *Geometry) UnmarshalJSON(b []byte) error {
	*g = Geometry{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var raw rawGeometry
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch strings.ToLower(raw.Type) {
	case "polygon":
		var coords [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return err
		}
		g.Type = TypePolygon
		g.Polygons = append(g.Polygons, polygonFromCoords(coords))
	case "multipolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return err
		}
		g.Type = TypeMultiPolygon
		for _, part := range coords {
			g.Polygons = append(g.Polygons, polygonFromCoords(part))
		}
	default:
		g.Type = raw.Type
	}
	return nil
}

// MarshalJSON：回写为 GeoJSON；空几何写为 null
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Type == "" {
		return []byte("null"), nil
	}
	switch g.Type {
	case TypePolygon:
		if len(g.Polygons) == 0 {
			return json.Marshal(rawOut{Type: g.Type, Coordinates: [][][]float64{}})
		}
		return json.Marshal(rawOut{Type: g.Type, Coordinates: polygonToCoords(g.Polygons[0])})
	case TypeMultiPolygon:
		parts := make([][][][]float64, 0, len(g.Polygons))
		for _, p := range g.Polygons {
			parts = append(parts, polygonToCoords(p))
		}
		return json.Marshal(rawOut{Type: g.Type, Coordinates: parts})
	}
	return nil, errors.New("geo: unsupported geometry type " + g.Type)
}

type rawOut struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// NewPolygon：由外环构造单面几何（测试与导入工具使用）
func NewPolygon(ring ...Point) *Geometry {
	p := Polygon{Rings: [][]Point{ring}}
	p.BBox = ringsBBox(p.Rings)
	return &Geometry{Type: TypePolygon, Polygons: []Polygon{p}}
}

// NewMultiPolygon：由多个外环构造多面几何
func NewMultiPolygon(rings ...[]Point) *Geometry {
	g := &Geometry{Type: TypeMultiPolygon}
	for _, r := range rings {
		p := Polygon{Rings: [][]Point{r}}
		p.BBox = ringsBBox(p.Rings)
		g.Polygons = append(g.Polygons, p)
	}
	return g
}

func polygonFromCoords(coords [][][]float64) Polygon {
	var poly Polygon
	for _, ring := range coords {
		rr := make([]Point, 0, len(ring))
		for _, c := range ring {
			if len(c) >= 2 {
				rr = append(rr, Point{Lat: c[1], Lng: c[0]})
			}
		}
		poly.Rings = append(poly.Rings, rr)
	}
	poly.BBox = ringsBBox(poly.Rings)
	return poly
}

func polygonToCoords(p Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p.Rings))
	for _, r := range p.Rings {
		ring := make([][]float64, 0, len(r))
		for _, pt := range r {
			ring = append(ring, []float64{pt.Lng, pt.Lat})
		}
		out = append(out, ring)
	}
	return out
}
