package discovery

import (
	"context"
	"time"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/progression"
	"fog-api/internal/zone"
)

// 文档注释：提交区域完成
// 背景：锁检查 → 加锁 → 限时远程提交 → 成功后本地合并并全量同步（同步失败标脏）、回收点日志与格子 → 释放锁。
// 返回：true 表示本次调用完成了提交；已完成、提交中、未知区域或远程失败均返回 false。
func (e *Engine) CompleteZone(ctx context.Context, zoneID string) bool {
	e.mu.Lock()
	if e.catalog == nil {
		e.mu.Unlock()
		return false
	}
	z, ok := e.catalog.Get(zoneID)
	if !ok {
		e.mu.Unlock()
		logger.L().Debug("complete_unknown_zone", "zone", zoneID)
		return false
	}
	if _, done := e.completed[zoneID]; done {
		e.mu.Unlock()
		metrics.CompletionsTotal.WithLabelValues("suppressed").Inc()
		return false
	}
	if _, busy := e.committing[zoneID]; busy {
		e.mu.Unlock()
		metrics.CompletionsTotal.WithLabelValues("suppressed").Inc()
		logger.L().Debug("complete_suppressed", "zone", zoneID)
		return false
	}
	e.committing[zoneID] = struct{}{}
	e.touched[zoneID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.committing, zoneID)
		e.mu.Unlock()
	}()

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()
	t0 := time.Now()
	row, err := e.deps.Progressions.CreateProgression(cctx, progression.New(e.cfg.GuildID, z.Ref(), true))
	metrics.CommitDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues("failure").Inc()
		logger.L().Warn("complete_commit_error", "guild", e.cfg.GuildID, "zone", zoneID, "err", err)
		return false
	}
	metrics.CompletionsTotal.WithLabelValues("success").Inc()

	e.mu.Lock()
	e.completed[zoneID] = struct{}{}
	e.mu.Unlock()
	logger.L().Info("zone_completed", "guild", e.cfg.GuildID, "zone", zoneID, "level", z.Level, "row", row.ID)

	if err := e.Refresh(ctx); err != nil {
		logger.L().Warn("progressions_resync_error", "guild", e.cfg.GuildID, "err", err)
	}
	e.logCascaded(z)

	removed := e.fog.RemovePointsInZones([]*zone.Zone{z})
	e.fog.ClearGridForZone(zoneID)
	logger.L().Debug("zone_cleanup", "zone", zoneID, "points_removed", removed)
	e.saveSession(ctx)
	return true
}

// logCascaded：同步后可见的、由服务端级联完成的祖先
func (e *Engine) logCascaded(z *zone.Zone) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.catalog.Ancestors(z.ID) {
		if _, ok := e.completed[a.ID]; !ok {
			return
		}
		logger.L().Info("ancestor_completed", "guild", e.cfg.GuildID, "zone", a.ID, "level", a.Level)
	}
}

// Completed：某层级已完成区域 id（目录顺序）
func (e *Engine) Completed(level zone.Level) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.catalog == nil {
		return nil
	}
	var out []string
	for _, z := range e.catalog.ByLevel(level) {
		if _, ok := e.completed[z.ID]; ok {
			out = append(out, z.ID)
		}
	}
	return out
}
