package fog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"fog-api/internal/geo"
	"fog-api/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Snapshot：覆盖追踪的可持久化状态（点日志、各区域已访问格子、上一次记录点）
type Snapshot struct {
	Points  []geo.Point         `json:"points"`
	Cells   map[string][]string `json:"cells"`
	Last    *geo.Point          `json:"last,omitempty"`
	SavedAt time.Time           `json:"saved_at"`
}

// Snapshot：导出当前状态；格子键排序以保证输出稳定
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		Points:  append([]geo.Point(nil), t.points...),
		Cells:   make(map[string][]string, len(t.visited)),
		SavedAt: time.Now().UTC(),
	}
	if t.last != nil {
		p := *t.last
		s.Last = &p
	}
	for zoneID, set := range t.visited {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		s.Cells[zoneID] = keys
	}
	return s
}

// Restore：以快照替换当前状态；无法解析的格子键被跳过
func (t *Tracker) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = append([]geo.Point(nil), s.Points...)
	t.last = nil
	if s.Last != nil {
		p := *s.Last
		t.last = &p
	}
	t.visited = make(map[string]map[CellKey]struct{}, len(s.Cells))
	for zoneID, keys := range s.Cells {
		set := make(map[CellKey]struct{}, len(keys))
		for _, k := range keys {
			ck, err := ParseCellKey(k)
			if err != nil {
				logger.L().Debug("fog_restore_bad_cell", "zone", zoneID, "key", k)
				continue
			}
			set[ck] = struct{}{}
		}
		t.visited[zoneID] = set
	}
}

// 文档注释：基于 Redis 的会话存储
// 背景：客户端重启后从快照重新推导各区域进行中状态；按公会隔离键空间。
// 约束：值为 JSON 字符串，TTL 由调用方配置；rc 为 nil 时所有操作为空操作。
type RedisSessionStore struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rc *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rc: rc, ttl: ttl}
}

func sessionKey(guildID string) string { return "fog:session:" + guildID }

func (s *RedisSessionStore) Save(ctx context.Context, guildID string, snap Snapshot) error {
	if s == nil || s.rc == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rc.Set(ctx, sessionKey(guildID), b, s.ttl).Err()
}

// Load：ok=false 表示无历史会话
func (s *RedisSessionStore) Load(ctx context.Context, guildID string) (Snapshot, bool, error) {
	var snap Snapshot
	if s == nil || s.rc == nil {
		return snap, false, nil
	}
	b, err := s.rc.Get(ctx, sessionKey(guildID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}
