// 包 zone：区域层级（大区/省/市镇联合体）统一模型、目录森林与坐标定位
package zone

import (
	"errors"
	"fmt"
	"strings"

	"fog-api/internal/geo"
)

// ErrNotFound：区域不存在或父级无法解析
var ErrNotFound = errors.New("zone: not found")

// Level：区域层级标签；三级共用一个类型
type Level string

const (
	LevelRegion     Level = "region"
	LevelDepartment Level = "department"
	LevelZone       Level = "zone"
)

// Levels 自顶向下
var Levels = []Level{LevelRegion, LevelDepartment, LevelZone}

// ParseLevel：解析层级文本，兼容复数与别名
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "region", "regions":
		return LevelRegion, nil
	case "department", "departments":
		return LevelDepartment, nil
	case "zone", "zones", "comcom", "intercommunal":
		return LevelZone, nil
	}
	return "", fmt.Errorf("zone: unknown level %q", s)
}

// Parent：上一级；大区没有上级
func (l Level) Parent() (Level, bool) {
	switch l {
	case LevelZone:
		return LevelDepartment, true
	case LevelDepartment:
		return LevelRegion, true
	}
	return "", false
}

// Child：下一级；市镇联合体没有下级
func (l Level) Child() (Level, bool) {
	switch l {
	case LevelRegion:
		return LevelDepartment, true
	case LevelDepartment:
		return LevelZone, true
	}
	return "", false
}

func (l Level) Valid() bool {
	return l == LevelRegion || l == LevelDepartment || l == LevelZone
}

// 文档注释：区域节点
// 背景：三级行政区结构相同，仅层级与父引用不同；定位器与级联引擎只面向这一种结构编写。
// 约束：ParentID 为空表示顶层；Geometry 可能缺失，缺失时不包含任何点。
type Zone struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Code     string        `json:"code"`
	Level    Level         `json:"level"`
	ParentID string        `json:"parent_id,omitempty"`
	Geometry *geo.Geometry `json:"geometry"`
}

// Contains：点是否落在区域几何内
func (z *Zone) Contains(pt geo.Point) bool {
	if z == nil {
		return false
	}
	return geo.PointInGeometry(pt, z.Geometry)
}

// Ref：指向某一层级中的一个区域
type Ref struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

func (r Ref) String() string { return string(r.Level) + ":" + r.ID }

func (z *Zone) Ref() Ref { return Ref{Level: z.Level, ID: z.ID} }
