package zone

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	ID         any            `json:"id"`
	Properties map[string]any `json:"properties"`
	Geometry   *geo.Geometry  `json:"geometry"`
}

// 文档注释：从数据目录加载区域 GeoJSON
// 背景：导入工具读取 *.geojson（FeatureCollection 或单个 Feature）；属性约定 id/name/code/level/parent_id。
// 约束：缺少 level 属性时按文件名推断（regions/departments/zones 前缀）；文件按名称排序读取以保证目录顺序稳定。
func LoadGeoJSONDir(dir string) ([]Zone, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(strings.ToLower(ent.Name()), ".geojson") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	var out []Zone
	for _, name := range names {
		zs, err := LoadGeoJSONFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		out = append(out, zs...)
	}
	logger.L().Debug("geojson_dir_loaded", "dir", dir, "files", len(names), "zones", len(out))
	return out, nil
}

// LoadGeoJSONFile：读取单个 GeoJSON 文件
func LoadGeoJSONFile(path string) ([]Zone, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fallback, _ := ParseLevel(strings.SplitN(strings.ToLower(filepath.Base(path)), ".", 2)[0])
	return ParseGeoJSON(b, fallback)
}

// ParseGeoJSON：解析 FeatureCollection/Feature；fallback 为缺省层级
func ParseGeoJSON(b []byte, fallback Level) ([]Zone, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	var feats []feature
	switch strings.ToLower(head.Type) {
	case "featurecollection":
		var fc featureCollection
		if err := json.Unmarshal(b, &fc); err != nil {
			return nil, err
		}
		feats = fc.Features
	case "feature":
		var f feature
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		feats = []feature{f}
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", head.Type)
	}
	out := make([]Zone, 0, len(feats))
	for _, f := range feats {
		z := Zone{
			ID:       getStr(f.Properties, "id"),
			Name:     getStr(f.Properties, "name"),
			Code:     getStr(f.Properties, "code"),
			ParentID: getStr(f.Properties, "parent_id"),
			Geometry: f.Geometry,
		}
		if z.ID == "" {
			z.ID = toString(f.ID)
		}
		z.Level = fallback
		if s := getStr(f.Properties, "level"); s != "" {
			l, err := ParseLevel(s)
			if err != nil {
				return nil, err
			}
			z.Level = l
		}
		if z.ID == "" || !z.Level.Valid() {
			logger.L().Warn("geojson_feature_skipped", "id", z.ID, "name", z.Name)
			continue
		}
		out = append(out, z)
	}
	return out, nil
}

func getStr(m map[string]any, k string) string {
	if m == nil {
		return ""
	}
	return toString(m[k])
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
