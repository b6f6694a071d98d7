package api

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 文档注释：计算布隆过滤器位置
// 参数：data 为参与哈希的字节序列，m 为位图大小，k 为哈希次数。
// 背景：FNV64a 加索引前缀生成 k 个位置，供 GetBit/SetBit 使用。
func bloomPositions(data []byte, m uint32, k int) []int64 {
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write(data)
		pos[i] = int64(uint32(h.Sum64() % uint64(m)))
	}
	return pos
}

// 文档注释：完成记录提交去重
// 背景：客户端在弱网下会重复提交同一完成记录；短窗口内见过的 (公会, 区域, 完成标记) 直接返回库中现有行，不再重跑写入与级联。
// 约束：布隆过滤器存在误判，命中后仍需确认库中行已满足请求才可短路；rc 为 nil 时视为首次见到。
type submitDedup struct {
	rc   *redis.Client
	ttl  time.Duration
	bits uint32
	k    int
}

func newSubmitDedup(rc *redis.Client, ttl time.Duration) *submitDedup {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &submitDedup{rc: rc, ttl: ttl, bits: 1 << 16, k: 4}
}

// seen 返回 true 表示此前已见过；首次见到时写入位图。Redis 错误按首次见到处理并返回 error
func (d *submitDedup) seen(ctx context.Context, guildID, fingerprint string) (bool, error) {
	if d == nil || d.rc == nil {
		return false, nil
	}
	key := "fog:bloom:progressions:" + guildID
	positions := bloomPositions([]byte(fingerprint), d.bits, d.k)
	seen := true
	for _, p := range positions {
		b, err := d.rc.GetBit(ctx, key, p).Result()
		if err != nil {
			return false, err
		}
		if b == 0 {
			seen = false
		}
	}
	if seen {
		return true, nil
	}
	for _, p := range positions {
		_, _ = d.rc.SetBit(ctx, key, p, 1).Result()
	}
	_ = d.rc.Expire(ctx, key, d.ttl).Err()
	return false, nil
}
