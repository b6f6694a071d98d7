package progression

import (
	"context"
	"errors"
	"fmt"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/zone"
)

// Repository：完成记录存储
type Repository interface {
	// Find 不存在时返回 ErrNotFound
	Find(ctx context.Context, guildID string, ref zone.Ref) (*Progression, error)
	// Insert 写入新行；与唯一约束冲突时合并为“已完成取或”，返回是否真正新建
	Insert(ctx context.Context, p *Progression) (bool, error)
	MarkCompleted(ctx context.Context, p *Progression) error
	ListByGuild(ctx context.Context, guildID string) ([]Progression, error)
}

// Hook：行写入后的回调（服务端级联）
type Hook interface {
	OnProgressionWritten(ctx context.Context, p Progression) error
}

// Action：一次写入的实际效果
type Action string

const (
	ActionCreated Action = "created"
	ActionFlipped Action = "flipped"
	ActionNoop    Action = "noop"
)

// 文档注释：完成记录写入服务
// 背景：客户端的 createProgression 是“类 upsert”调用；服务端先查后写，保证每个 (公会, 区域) 只有一行。
// 约束：已存在的未完成行被翻转为完成；已完成行不变（幂等）。写入完成后同步调用 Hook；
// 结果为已完成时即使是 noop 也会调用一次 Hook，级联本身幂等，可修复此前中断的级联。Hook 失败只记录日志，不影响本次写入结果。
type Service struct {
	repo Repository
	hook Hook
}

func NewService(repo Repository, hook Hook) *Service {
	return &Service{repo: repo, hook: hook}
}

// Create：先查后写
func (s *Service) Create(ctx context.Context, req Progression) (Progression, Action, error) {
	if err := req.Validate(); err != nil {
		return Progression{}, "", err
	}
	ref, _ := req.Ref()
	row, action, err := s.write(ctx, req, ref)
	if err != nil {
		return Progression{}, "", err
	}
	metrics.ProgressionWritesTotal.WithLabelValues(string(action)).Inc()
	logger.L().Debug("progression_written", "guild", row.GuildID, "ref", ref.String(), "action", action, "completed", row.IsCompleted)
	if s.hook != nil && row.IsCompleted {
		if err := s.hook.OnProgressionWritten(ctx, row); err != nil {
			logger.L().Warn("progression_hook_error", "guild", row.GuildID, "ref", ref.String(), "err", err)
		}
	}
	return row, action, nil
}

func (s *Service) write(ctx context.Context, req Progression, ref zone.Ref) (Progression, Action, error) {
	existing, err := s.repo.Find(ctx, req.GuildID, ref)
	switch {
	case errors.Is(err, ErrNotFound):
		row := New(req.GuildID, ref, req.IsCompleted)
		created, err := s.repo.Insert(ctx, &row)
		if err != nil {
			return Progression{}, "", fmt.Errorf("insert progression: %w", err)
		}
		if created {
			return row, ActionCreated, nil
		}
		// 并发写入已抢先建行，按已有行处理
		return row, ActionNoop, nil
	case err != nil:
		return Progression{}, "", fmt.Errorf("find progression: %w", err)
	}
	if req.IsCompleted && !existing.IsCompleted {
		if err := s.repo.MarkCompleted(ctx, existing); err != nil {
			return Progression{}, "", fmt.Errorf("mark progression completed: %w", err)
		}
		return *existing, ActionFlipped, nil
	}
	return *existing, ActionNoop, nil
}

// List：公会全部完成记录
func (s *Service) List(ctx context.Context, guildID string) ([]Progression, error) {
	if guildID == "" {
		return nil, ErrNoGuild
	}
	return s.repo.ListByGuild(ctx, guildID)
}
