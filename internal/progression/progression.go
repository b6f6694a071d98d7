// 包 progression：完成记录（公会 × 区域）的模型与写入协议
package progression

import (
	"errors"
	"time"

	"fog-api/internal/zone"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("progression: not found")
	ErrInvalidRef = errors.New("progression: exactly one of regionId, departmentId, zoneId is required")
	ErrNoGuild    = errors.New("progression: guildId is required")
)

// 文档注释：完成记录
// 背景：对外 JSON 形态沿用 regionId/departmentId/zoneId 三选一；内部以 zone.Ref 统一表达。
// 约束：每个 (公会, 区域) 至多一行；从不删除，只会由未完成翻转为完成。
type Progression struct {
	ID           uuid.UUID `json:"id"`
	GuildID      string    `json:"guildId"`
	RegionID     string    `json:"regionId,omitempty"`
	DepartmentID string    `json:"departmentId,omitempty"`
	ZoneID       string    `json:"zoneId,omitempty"`
	IsCompleted  bool      `json:"isCompleted"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Ref：解析三选一的区域引用
func (p Progression) Ref() (zone.Ref, error) {
	var refs []zone.Ref
	if p.RegionID != "" {
		refs = append(refs, zone.Ref{Level: zone.LevelRegion, ID: p.RegionID})
	}
	if p.DepartmentID != "" {
		refs = append(refs, zone.Ref{Level: zone.LevelDepartment, ID: p.DepartmentID})
	}
	if p.ZoneID != "" {
		refs = append(refs, zone.Ref{Level: zone.LevelZone, ID: p.ZoneID})
	}
	if len(refs) != 1 {
		return zone.Ref{}, ErrInvalidRef
	}
	return refs[0], nil
}

// SetRef：按层级写入对应字段并清空其余两个
func (p *Progression) SetRef(ref zone.Ref) {
	p.RegionID, p.DepartmentID, p.ZoneID = "", "", ""
	switch ref.Level {
	case zone.LevelRegion:
		p.RegionID = ref.ID
	case zone.LevelDepartment:
		p.DepartmentID = ref.ID
	case zone.LevelZone:
		p.ZoneID = ref.ID
	}
}

// New：构造一行（ID 与时间戳由仓库在写入时补齐）
func New(guildID string, ref zone.Ref, completed bool) Progression {
	p := Progression{GuildID: guildID, IsCompleted: completed}
	p.SetRef(ref)
	return p
}

// Validate：写入前校验
func (p Progression) Validate() error {
	if p.GuildID == "" {
		return ErrNoGuild
	}
	_, err := p.Ref()
	return err
}
