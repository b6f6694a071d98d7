// 包 memstore：进程内存储，实现与 store 相同的接口；用于无数据库的本地运行与测试
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	version   string
	zones     []zone.Zone
	catalog   *zone.Catalog
	locations []visit.Location
	rows      map[string]*progression.Progression
	chests    map[string]struct{}
	museums   map[string]struct{}
	now       func() time.Time
}

func New() *Store {
	return &Store{
		catalog: zone.NewCatalog("", nil),
		rows:    make(map[string]*progression.Progression),
		chests:  make(map[string]struct{}),
		museums: make(map[string]struct{}),
		now:     time.Now,
	}
}

func rowKey(guildID string, ref zone.Ref) string { return guildID + "|" + ref.String() }

func (s *Store) Ping(ctx context.Context) error { return nil }

// ReplaceZones：整体替换目录并设置版本
func (s *Store) ReplaceZones(ctx context.Context, version string, zones []zone.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	s.zones = append([]zone.Zone(nil), zones...)
	s.catalog = zone.NewCatalog(version, s.zones)
	return nil
}

func (s *Store) ReplaceLocations(ctx context.Context, locs []visit.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append([]visit.Location(nil), locs...)
	return nil
}

func (s *Store) DataVersion(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

// ListZones：按层级分页（目录顺序），返回该层级总数
func (s *Store) ListZones(ctx context.Context, level zone.Level, offset, limit int) ([]zone.Zone, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []zone.Zone
	for _, z := range s.zones {
		if z.Level == level {
			all = append(all, z)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]visit.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]visit.Location(nil), s.locations...), nil
}

func (s *Store) Find(ctx context.Context, guildID string, ref zone.Ref) (*progression.Progression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[rowKey(guildID, ref)]
	if !ok {
		return nil, progression.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Insert：唯一键冲突时合并完成标记，与 PostgreSQL 实现的 ON CONFLICT 语义一致
func (s *Store) Insert(ctx context.Context, p *progression.Progression) (bool, error) {
	ref, err := p.Ref()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	k := rowKey(p.GuildID, ref)
	if cur, ok := s.rows[k]; ok {
		cur.IsCompleted = cur.IsCompleted || p.IsCompleted
		cur.UpdatedAt = now
		*p = *cur
		return false, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	s.rows[k] = &cp
	return true, nil
}

func (s *Store) MarkCompleted(ctx context.Context, p *progression.Progression) error {
	ref, err := p.Ref()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[rowKey(p.GuildID, ref)]
	if !ok {
		return progression.ErrNotFound
	}
	cur.IsCompleted = true
	cur.UpdatedAt = s.now().UTC()
	*p = *cur
	return nil
}

func (s *Store) ListByGuild(ctx context.Context, guildID string) ([]progression.Progression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []progression.Progression
	for _, p := range s.rows {
		if p.GuildID == guildID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Rows：全部行数（测试断言唯一性使用）
func (s *Store) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Store) ZoneParent(ctx context.Context, ref zone.Ref) (zone.Ref, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.catalog.Get(ref.ID)
	if !ok || z.Level != ref.Level {
		return zone.Ref{}, false, zone.ErrNotFound
	}
	if z.ParentID == "" {
		return zone.Ref{}, false, nil
	}
	p, ok := s.catalog.Parent(z.ID)
	if !ok {
		return zone.Ref{}, false, zone.ErrNotFound
	}
	return p.Ref(), true, nil
}

func (s *Store) CountChildren(ctx context.Context, parent zone.Ref) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.catalog.Children(parent.ID)), nil
}

func (s *Store) CountCompletedChildren(ctx context.Context, guildID string, parent zone.Ref) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.catalog.Children(parent.ID) {
		if p, ok := s.rows[rowKey(guildID, c.Ref())]; ok && p.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordChestOpened(ctx context.Context, guildID, poiID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chests[guildID+"|"+poiID] = struct{}{}
	return nil
}

func (s *Store) RecordExpedition(ctx context.Context, guildID, museumID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.museums[guildID+"|"+museumID] = struct{}{}
	return nil
}

func (s *Store) HasVisitedPOI(ctx context.Context, guildID, poiID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chests[guildID+"|"+poiID]
	return ok, nil
}

func (s *Store) HasRunExpedition(ctx context.Context, guildID, museumID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.museums[guildID+"|"+museumID]
	return ok, nil
}
