package discovery

import (
	"context"

	"fog-api/internal/geo"
	"fog-api/internal/logger"
)

// 文档注释：GPS 路径（迷雾覆盖）
// 背景：记录点日志（20m 去重）→ 定位区域 → 已完成则停止 → 登记格子，非新格子则停止 → 确保格点总数 → 比较阈值。
// 约束：点日志去重只影响日志本身，被去重的点仍参与格子登记。
func (e *Engine) CheckFogCoverage(ctx context.Context, lat, lng float64) Check {
	pt := geo.Point{Lat: lat, Lng: lng}
	e.ensureFresh(ctx)
	logged := e.fog.LogPoint(pt)
	z, err := e.locate(pt)
	if err != nil {
		return fogOutcome(Check{Outcome: OutcomeNotLoaded})
	}
	if z == nil {
		if !logged {
			return fogOutcome(Check{Outcome: OutcomeDeduped})
		}
		return fogOutcome(Check{Outcome: OutcomeUnlocated})
	}
	if e.IsCompleted(z.ID) {
		return fogOutcome(Check{ZoneID: z.ID, Outcome: OutcomeCompleted})
	}
	if !e.fog.AddGridCell(z.ID, lat, lng) {
		return fogOutcome(Check{ZoneID: z.ID, Ratio: e.fog.CoverageRatio(z.ID), Outcome: OutcomeKnownCell})
	}
	total := e.grid.TotalCells(z)
	ratio := e.fog.CoverageRatio(z.ID)
	logger.L().Debug("fog_cell_added", "zone", z.ID, "visited", e.fog.VisitedCells(z.ID), "total", total, "ratio", ratio)
	if ratio < e.cfg.Threshold {
		return fogOutcome(Check{ZoneID: z.ID, Ratio: ratio, Outcome: OutcomeBelow})
	}
	if e.CompleteZone(ctx, z.ID) {
		return fogOutcome(Check{ZoneID: z.ID, Ratio: ratio, Outcome: OutcomeCommitted})
	}
	return fogOutcome(Check{ZoneID: z.ID, Ratio: ratio, Outcome: OutcomeNotCommit})
}

// 文档注释：到访路径
// 背景：兴趣点或地标被访问后调用，坐标为该地点的位置；区域内没有可追踪地点时弃权。
// 约束：事实查询失败本次不判定，不影响迷雾路径。
func (e *Engine) CheckVisitCoverage(ctx context.Context, lat, lng float64) Check {
	e.ensureFresh(ctx)
	z, err := e.locate(geo.Point{Lat: lat, Lng: lng})
	if err != nil {
		return visitOutcome(Check{Outcome: OutcomeNotLoaded})
	}
	if z == nil {
		return visitOutcome(Check{Outcome: OutcomeUnlocated})
	}
	if e.IsCompleted(z.ID) {
		return visitOutcome(Check{ZoneID: z.ID, Outcome: OutcomeCompleted})
	}
	cov, ok, err := e.visits.CoverageRatio(ctx, e.cfg.GuildID, z)
	if err != nil {
		logger.L().Warn("visit_coverage_error", "zone", z.ID, "err", err)
		return visitOutcome(Check{ZoneID: z.ID, Outcome: OutcomeFactError})
	}
	if !ok {
		return visitOutcome(Check{ZoneID: z.ID, Outcome: OutcomeAbstained})
	}
	if cov.Visited > 0 {
		e.mu.Lock()
		e.touched[z.ID] = struct{}{}
		e.mu.Unlock()
	}
	if cov.Ratio < e.cfg.Threshold {
		return visitOutcome(Check{ZoneID: z.ID, Ratio: cov.Ratio, Outcome: OutcomeBelow})
	}
	if e.CompleteZone(ctx, z.ID) {
		return visitOutcome(Check{ZoneID: z.ID, Ratio: cov.Ratio, Outcome: OutcomeCommitted})
	}
	return visitOutcome(Check{ZoneID: z.ID, Ratio: cov.Ratio, Outcome: OutcomeNotCommit})
}
