package discovery

import (
	"context"

	"fog-api/internal/logger"
)

// Flush：持久化当前覆盖状态；未配置会话存储时为空操作
func (e *Engine) Flush(ctx context.Context) error {
	if e.deps.Sessions == nil {
		return nil
	}
	return e.deps.Sessions.Save(ctx, e.cfg.GuildID, e.fog.Snapshot())
}

func (e *Engine) saveSession(ctx context.Context) {
	if err := e.Flush(ctx); err != nil {
		logger.L().Warn("session_save_error", "guild", e.cfg.GuildID, "err", err)
	}
}

// restoreSession：已完成区域的格子在恢复时丢弃
func (e *Engine) restoreSession(ctx context.Context) {
	if e.deps.Sessions == nil {
		return
	}
	snap, ok, err := e.deps.Sessions.Load(ctx, e.cfg.GuildID)
	if err != nil {
		logger.L().Warn("session_load_error", "guild", e.cfg.GuildID, "err", err)
		return
	}
	if !ok {
		return
	}
	e.mu.Lock()
	for id := range snap.Cells {
		if _, done := e.completed[id]; done {
			delete(snap.Cells, id)
		}
	}
	cat := e.catalog
	e.mu.Unlock()
	e.fog.Restore(snap)
	for id := range snap.Cells {
		if z, ok := cat.Get(id); ok {
			e.grid.TotalCells(z)
		}
	}
	logger.L().Info("session_restored", "guild", e.cfg.GuildID, "points", len(snap.Points), "zones", len(snap.Cells))
}
