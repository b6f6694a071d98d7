// 包 store: PostgreSQL 数据访问层，承载区域目录、完成记录与访问事实
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// 文档注释：整体替换区域目录
// 背景：导入工具每次提交完整目录；不在新目录中的区域被删除，其余按 id upsert，版本号同事务写入。
// 约束：单事务；客户端据版本号判断缓存是否失效。
func (s *Store) ReplaceZones(ctx context.Context, version string, zones []zone.Zone) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(zones))
	for _, z := range zones {
		ids = append(ids, z.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _fog_zones WHERE NOT (id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("prune zones: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _fog_zones(id, level, name, code, parent_id, geometry)
        VALUES($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE SET level=EXCLUDED.level, name=EXCLUDED.name, code=EXCLUDED.code, parent_id=EXCLUDED.parent_id, geometry=EXCLUDED.geometry`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, z := range zones {
		var geom []byte
		if z.Geometry != nil {
			if geom, err = json.Marshal(z.Geometry); err != nil {
				return fmt.Errorf("encode geometry %s: %w", z.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, z.ID, string(z.Level), z.Name, z.Code, nullString(z.ParentID), nullBytes(geom)); err != nil {
			return fmt.Errorf("upsert zone %s: %w", z.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _fog_catalog_version(id, version, updated_at) VALUES(1, $1, now())
        ON CONFLICT (id) DO UPDATE SET version=EXCLUDED.version, updated_at=now()`, version); err != nil {
		return fmt.Errorf("set catalog version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("zones_replaced", "version", version, "count", len(zones))
	return nil
}

// ReplaceLocations: 整体替换宝箱与博物馆位置
func (s *Store) ReplaceLocations(ctx context.Context, locs []visit.Location) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM _fog_locations`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _fog_locations(id, kind, name, lat, lng) VALUES($1,$2,$3,$4,$5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, l := range locs {
		if _, err := stmt.ExecContext(ctx, l.ID, string(l.Kind), l.Name, l.Lat, l.Lng); err != nil {
			return fmt.Errorf("insert location %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// DataVersion: 当前目录版本；尚未导入时返回空串
func (s *Store) DataVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM _fog_catalog_version WHERE id=1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// ListZones: 按层级分页，id 升序；同时返回该层级总数
func (s *Store) ListZones(ctx context.Context, level zone.Level, offset, limit int) ([]zone.Zone, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _fog_zones WHERE level=$1`, string(level)).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := `SELECT id, level, name, code, COALESCE(parent_id, ''), geometry FROM _fog_zones WHERE level=$1 ORDER BY id OFFSET $2`
	args := []any{string(level), offset}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []zone.Zone
	for rows.Next() {
		var (
			z    zone.Zone
			lvl  string
			geom []byte
		)
		if err := rows.Scan(&z.ID, &lvl, &z.Name, &z.Code, &z.ParentID, &geom); err != nil {
			return nil, 0, err
		}
		z.Level = zone.Level(lvl)
		if len(geom) > 0 {
			var g geo.Geometry
			if err := json.Unmarshal(geom, &g); err != nil {
				logger.L().Warn("zone_geometry_decode_error", "id", z.ID, "err", err)
			} else {
				z.Geometry = &g
			}
		}
		out = append(out, z)
	}
	logger.L().Debug("db_list_zones", "level", level, "offset", offset, "count", len(out), "total", total)
	return out, total, rows.Err()
}

func (s *Store) ListLocations(ctx context.Context) ([]visit.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, name, lat, lng FROM _fog_locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []visit.Location
	for rows.Next() {
		var (
			l    visit.Location
			kind string
		)
		if err := rows.Scan(&l.ID, &kind, &l.Name, &l.Lat, &l.Lng); err != nil {
			return nil, err
		}
		l.Kind = visit.Kind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}

const progressionCols = `id, guild_id, zone_level, zone_id, is_completed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProgression(r scanner) (*progression.Progression, error) {
	var (
		p          progression.Progression
		level, zid string
	)
	if err := r.Scan(&p.ID, &p.GuildID, &level, &zid, &p.IsCompleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SetRef(zone.Ref{Level: zone.Level(level), ID: zid})
	return &p, nil
}

func (s *Store) Find(ctx context.Context, guildID string, ref zone.Ref) (*progression.Progression, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressionCols+` FROM _fog_progressions WHERE guild_id=$1 AND zone_level=$2 AND zone_id=$3`,
		guildID, string(ref.Level), ref.ID)
	p, err := scanProgression(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, progression.ErrNotFound
	}
	return p, err
}

// 文档注释：写入完成记录
// 背景：先查后写之间可能有另一进程插入同一行；唯一索引冲突时合并为“已完成取或”，保证行不重复且完成标记不回退。
// 返回：created 由 xmax = 0 判定（真正插入的新行）。p 被回填为库中的最终行。
func (s *Store) Insert(ctx context.Context, p *progression.Progression) (bool, error) {
	ref, err := p.Ref()
	if err != nil {
		return false, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.db.QueryRowContext(ctx, `INSERT INTO _fog_progressions(id, guild_id, zone_level, zone_id, is_completed)
        VALUES($1,$2,$3,$4,$5)
        ON CONFLICT (guild_id, zone_level, zone_id) DO UPDATE
        SET is_completed = _fog_progressions.is_completed OR EXCLUDED.is_completed, updated_at=now()
        RETURNING `+progressionCols+`, (xmax = 0)`,
		p.ID, p.GuildID, string(ref.Level), ref.ID, p.IsCompleted)
	var (
		out        progression.Progression
		level, zid string
		created    bool
	)
	if err := row.Scan(&out.ID, &out.GuildID, &level, &zid, &out.IsCompleted, &out.CreatedAt, &out.UpdatedAt, &created); err != nil {
		return false, err
	}
	out.SetRef(zone.Ref{Level: zone.Level(level), ID: zid})
	*p = out
	logger.L().Debug("db_progression_insert", "guild", p.GuildID, "ref", ref.String(), "created", created)
	return created, nil
}

func (s *Store) MarkCompleted(ctx context.Context, p *progression.Progression) error {
	ref, err := p.Ref()
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `UPDATE _fog_progressions SET is_completed=TRUE, updated_at=now()
        WHERE guild_id=$1 AND zone_level=$2 AND zone_id=$3
        RETURNING `+progressionCols, p.GuildID, string(ref.Level), ref.ID)
	out, err := scanProgression(row)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.ErrNotFound
	}
	if err != nil {
		return err
	}
	*p = *out
	return nil
}

func (s *Store) ListByGuild(ctx context.Context, guildID string) ([]progression.Progression, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+progressionCols+` FROM _fog_progressions WHERE guild_id=$1 ORDER BY created_at, id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []progression.Progression
	for rows.Next() {
		p, err := scanProgression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ZoneParent: 区域或其父级不存在时返回 zone.ErrNotFound；顶层返回 ok=false
func (s *Store) ZoneParent(ctx context.Context, ref zone.Ref) (zone.Ref, bool, error) {
	var parentID, parentLevel sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT z.parent_id, pz.level FROM _fog_zones z
        LEFT JOIN _fog_zones pz ON pz.id = z.parent_id
        WHERE z.id=$1 AND z.level=$2`, ref.ID, string(ref.Level)).Scan(&parentID, &parentLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return zone.Ref{}, false, zone.ErrNotFound
	}
	if err != nil {
		return zone.Ref{}, false, err
	}
	if !parentID.Valid || parentID.String == "" {
		return zone.Ref{}, false, nil
	}
	want, _ := ref.Level.Parent()
	if !parentLevel.Valid || zone.Level(parentLevel.String) != want {
		return zone.Ref{}, false, zone.ErrNotFound
	}
	return zone.Ref{Level: want, ID: parentID.String}, true, nil
}

func (s *Store) CountChildren(ctx context.Context, parent zone.Ref) (int, error) {
	child, ok := parent.Level.Child()
	if !ok {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _fog_zones WHERE parent_id=$1 AND level=$2`, parent.ID, string(child)).Scan(&n)
	return n, err
}

func (s *Store) CountCompletedChildren(ctx context.Context, guildID string, parent zone.Ref) (int, error) {
	child, ok := parent.Level.Child()
	if !ok {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _fog_progressions p
        JOIN _fog_zones z ON z.id = p.zone_id AND z.level = p.zone_level
        WHERE z.parent_id=$1 AND z.level=$2 AND p.guild_id=$3 AND p.is_completed`,
		parent.ID, string(child), guildID).Scan(&n)
	return n, err
}

func (s *Store) RecordChestOpened(ctx context.Context, guildID, poiID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _fog_chest_visits(guild_id, poi_id) VALUES($1,$2)
        ON CONFLICT (guild_id, poi_id) DO NOTHING`, guildID, poiID)
	return err
}

func (s *Store) RecordExpedition(ctx context.Context, guildID, museumID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _fog_museum_expeditions(guild_id, museum_id) VALUES($1,$2)
        ON CONFLICT (guild_id, museum_id) DO UPDATE SET runs=_fog_museum_expeditions.runs+1, last_run_at=now()`, guildID, museumID)
	return err
}

func (s *Store) HasVisitedPOI(ctx context.Context, guildID, poiID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM _fog_chest_visits WHERE guild_id=$1 AND poi_id=$2)`, guildID, poiID)
}

func (s *Store) HasRunExpedition(ctx context.Context, guildID, museumID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM _fog_museum_expeditions WHERE guild_id=$1 AND museum_id=$2)`, guildID, museumID)
}

func (s *Store) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&ok)
	return ok, err
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
