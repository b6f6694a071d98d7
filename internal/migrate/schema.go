package migrate

import (
	"context"
	"database/sql"

	"fog-api/internal/logger"
)

// 背景：首次运行自动创建区域目录、完成记录与访问事实表
// 约束：使用 IF NOT EXISTS 保持幂等；完成记录以 (guild_id, zone_level, zone_id) 唯一，跨进程并发写入收敛到同一行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _fog_zones (
            id TEXT PRIMARY KEY,
            level TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            code TEXT NOT NULL DEFAULT '',
            parent_id TEXT,
            geometry JSONB
        )`,
		`CREATE INDEX IF NOT EXISTS idx_fog_zones_parent ON _fog_zones(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fog_zones_level ON _fog_zones(level, id)`,
		`CREATE TABLE IF NOT EXISTS _fog_catalog_version (
            id INT PRIMARY KEY,
            version TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE TABLE IF NOT EXISTS _fog_progressions (
            id UUID PRIMARY KEY,
            guild_id TEXT NOT NULL,
            zone_level TEXT NOT NULL,
            zone_id TEXT NOT NULL,
            is_completed BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_fog_progression ON _fog_progressions(guild_id, zone_level, zone_id)`,
		`CREATE TABLE IF NOT EXISTS _fog_locations (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            lat DOUBLE PRECISION NOT NULL,
            lng DOUBLE PRECISION NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS _fog_chest_visits (
            guild_id TEXT NOT NULL,
            poi_id TEXT NOT NULL,
            opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (guild_id, poi_id)
        )`,
		`CREATE TABLE IF NOT EXISTS _fog_museum_expeditions (
            guild_id TEXT NOT NULL,
            museum_id TEXT NOT NULL,
            runs INT NOT NULL DEFAULT 1,
            last_run_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (guild_id, museum_id)
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
