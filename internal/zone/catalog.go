package zone

import (
	"fog-api/internal/logger"
)

// 文档注释：区域目录（只读森林）
// 背景：会话开始时一次性加载，整个会话内不可变；提供按 ID/层级/父子关系的 O(1) 查询。
// 约束：ID 在全目录唯一，重复 ID 以先出现者为准；父级层级不匹配或父级缺失的节点保留但不挂接（孤儿），级联在此停止。
type Catalog struct {
	version  string
	zones    []*Zone
	byID     map[string]*Zone
	children map[string][]*Zone
	orphans  int
}

// NewCatalog：构建目录并校验层级关系
func NewCatalog(version string, zones []Zone) *Catalog {
	c := &Catalog{version: version, byID: make(map[string]*Zone, len(zones)), children: make(map[string][]*Zone)}
	for i := range zones {
		z := zones[i]
		if z.ID == "" || !z.Level.Valid() {
			logger.L().Warn("catalog_zone_invalid", "id", z.ID, "level", z.Level)
			continue
		}
		if _, dup := c.byID[z.ID]; dup {
			logger.L().Warn("catalog_zone_duplicate", "id", z.ID)
			continue
		}
		zp := &z
		c.zones = append(c.zones, zp)
		c.byID[z.ID] = zp
	}
	for _, z := range c.zones {
		if z.ParentID == "" {
			if z.Level != LevelRegion {
				c.orphans++
				logger.L().Debug("catalog_zone_orphan", "id", z.ID, "level", z.Level)
			}
			continue
		}
		p, ok := c.byID[z.ParentID]
		want, _ := z.Level.Parent()
		if !ok || p.Level != want {
			c.orphans++
			logger.L().Debug("catalog_zone_orphan", "id", z.ID, "parent", z.ParentID)
			continue
		}
		c.children[p.ID] = append(c.children[p.ID], z)
	}
	logger.L().Debug("catalog_built", "version", version, "zones", len(c.zones), "orphans", c.orphans)
	return c
}

func (c *Catalog) Version() string { return c.version }

func (c *Catalog) Len() int { return len(c.zones) }

// Orphans：父级无法解析的节点数
func (c *Catalog) Orphans() int { return c.orphans }

func (c *Catalog) Get(id string) (*Zone, bool) {
	z, ok := c.byID[id]
	return z, ok
}

// Parent：已挂接的父节点；顶层或孤儿返回 false
func (c *Catalog) Parent(id string) (*Zone, bool) {
	z, ok := c.byID[id]
	if !ok || z.ParentID == "" {
		return nil, false
	}
	p, ok := c.byID[z.ParentID]
	if !ok {
		return nil, false
	}
	if want, _ := z.Level.Parent(); p.Level != want {
		return nil, false
	}
	return p, true
}

func (c *Catalog) Children(id string) []*Zone { return c.children[id] }

// Ancestors：自下而上的祖先链（不含自身）
func (c *Catalog) Ancestors(id string) []*Zone {
	var out []*Zone
	for cur := id; ; {
		p, ok := c.Parent(cur)
		if !ok {
			return out
		}
		out = append(out, p)
		cur = p.ID
	}
}

// ByLevel：按目录顺序返回某一层级的所有节点
func (c *Catalog) ByLevel(l Level) []*Zone {
	var out []*Zone
	for _, z := range c.zones {
		if z.Level == l {
			out = append(out, z)
		}
	}
	return out
}

func (c *Catalog) All() []*Zone { return c.zones }
