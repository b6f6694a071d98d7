package zone

import "fmt"

// Report：目录校验结果
type Report struct {
	ByLevel         map[Level]int
	Invalid         []string
	Duplicates      []string
	Orphans         []string
	MissingGeometry []string
}

// OK：没有会导致级联或定位出错的问题；缺失几何只影响定位，不计入
func (r Report) OK() bool {
	return len(r.Invalid) == 0 && len(r.Duplicates) == 0 && len(r.Orphans) == 0
}

func (r Report) String() string {
	return fmt.Sprintf("regions=%d departments=%d zones=%d invalid=%d duplicates=%d orphans=%d missing_geometry=%d",
		r.ByLevel[LevelRegion], r.ByLevel[LevelDepartment], r.ByLevel[LevelZone],
		len(r.Invalid), len(r.Duplicates), len(r.Orphans), len(r.MissingGeometry))
}

// 文档注释：校验导入前的目录
// 约束：与 NewCatalog 的规则一致：id 唯一、层级合法、非顶层节点的父级存在且恰好高一级；叶子层级缺少几何单独列出。
func Validate(zones []Zone) Report {
	r := Report{ByLevel: make(map[Level]int)}
	byID := make(map[string]Zone, len(zones))
	var kept []Zone
	for _, z := range zones {
		if z.ID == "" || !z.Level.Valid() {
			r.Invalid = append(r.Invalid, z.ID)
			continue
		}
		if _, dup := byID[z.ID]; dup {
			r.Duplicates = append(r.Duplicates, z.ID)
			continue
		}
		byID[z.ID] = z
		kept = append(kept, z)
		r.ByLevel[z.Level]++
	}
	for _, z := range kept {
		want, hasParent := z.Level.Parent()
		switch {
		case !hasParent && z.ParentID != "":
			r.Orphans = append(r.Orphans, z.ID)
		case hasParent:
			p, ok := byID[z.ParentID]
			if !ok || p.Level != want {
				r.Orphans = append(r.Orphans, z.ID)
			}
		}
		if z.Level == LevelZone && (z.Geometry == nil || z.Geometry.Empty()) {
			r.MissingGeometry = append(r.MissingGeometry, z.ID)
		}
	}
	return r
}
