// 包 cascade：服务端级联。子区域完成记录写入后，若同一父级下的子区域全部完成，则自动写入父级完成记录并继续向上
package cascade

import (
	"context"
	"errors"
	"fmt"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/progression"
	"fog-api/internal/zone"
)

// Repository：级联所需的存储能力
type Repository interface {
	progression.Repository
	// ZoneParent 返回父级引用；ok=false 表示顶层。区域或父级无法解析时返回 zone.ErrNotFound
	ZoneParent(ctx context.Context, ref zone.Ref) (zone.Ref, bool, error)
	CountChildren(ctx context.Context, parent zone.Ref) (int, error)
	CountCompletedChildren(ctx context.Context, guildID string, parent zone.Ref) (int, error)
}

// 文档注释：级联引擎
// 背景：完成记录以最细层级为主写入，上层完成由服务端推导；每次写入后同步执行，直到某一级未全部完成或到达顶层。
// 约束：同一公会的级联在进程内串行（按公会加锁），父级写入前总是先查存在性，重复触发只会得到 noop；
// 跨进程并发依赖存储层唯一约束收敛到同一行。孤儿数据（父级无法解析）在该层静默停止。
type Engine struct {
	repo  Repository
	locks *keyedMutex
}

func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, locks: newKeyedMutex()}
}

// Step：级联中某一层的处理结果
type Step struct {
	Parent    zone.Ref
	Total     int
	Completed int
	Action    progression.Action
}

// OnProgressionWritten：progression.Hook 实现
func (e *Engine) OnProgressionWritten(ctx context.Context, p progression.Progression) error {
	_, err := e.Run(ctx, p)
	return err
}

// 文档注释：执行级联
// 返回：每一层实际处理的父级与动作；未完成的行或顶层行返回空结果。
func (e *Engine) Run(ctx context.Context, p progression.Progression) ([]Step, error) {
	if !p.IsCompleted {
		return nil, nil
	}
	ref, err := p.Ref()
	if err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(p.GuildID)
	defer unlock()

	var steps []Step
	for {
		parent, ok, err := e.repo.ZoneParent(ctx, ref)
		if errors.Is(err, zone.ErrNotFound) {
			logger.L().Debug("cascade_orphan", "guild", p.GuildID, "ref", ref.String())
			return steps, nil
		}
		if err != nil {
			return steps, fmt.Errorf("resolve parent of %s: %w", ref, err)
		}
		if !ok {
			return steps, nil
		}
		total, err := e.repo.CountChildren(ctx, parent)
		if err != nil {
			return steps, fmt.Errorf("count children of %s: %w", parent, err)
		}
		done, err := e.repo.CountCompletedChildren(ctx, p.GuildID, parent)
		if err != nil {
			return steps, fmt.Errorf("count completed children of %s: %w", parent, err)
		}
		step := Step{Parent: parent, Total: total, Completed: done}
		if total == 0 || done < total {
			logger.L().Debug("cascade_incomplete", "guild", p.GuildID, "parent", parent.String(), "completed", done, "total", total)
			return steps, nil
		}
		step.Action, err = e.completeParent(ctx, p.GuildID, parent)
		if err != nil {
			return steps, err
		}
		metrics.CascadeWritesTotal.WithLabelValues(string(parent.Level), string(step.Action)).Inc()
		logger.L().Info("cascade_parent_completed", "guild", p.GuildID, "parent", parent.String(), "action", step.Action)
		steps = append(steps, step)
		ref = parent
	}
}

func (e *Engine) completeParent(ctx context.Context, guildID string, parent zone.Ref) (progression.Action, error) {
	existing, err := e.repo.Find(ctx, guildID, parent)
	switch {
	case errors.Is(err, progression.ErrNotFound):
		row := progression.New(guildID, parent, true)
		created, err := e.repo.Insert(ctx, &row)
		if err != nil {
			return "", fmt.Errorf("create parent progression %s: %w", parent, err)
		}
		if created {
			return progression.ActionCreated, nil
		}
		return progression.ActionNoop, nil
	case err != nil:
		return "", fmt.Errorf("find parent progression %s: %w", parent, err)
	}
	if existing.IsCompleted {
		return progression.ActionNoop, nil
	}
	if err := e.repo.MarkCompleted(ctx, existing); err != nil {
		return "", fmt.Errorf("flip parent progression %s: %w", parent, err)
	}
	return progression.ActionFlipped, nil
}
