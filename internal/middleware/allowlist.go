package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"fog-api/internal/logger"
)

// 文档注释：来源 IP 白名单
// 背景：到访事实的写入接口只应由游戏服务端调用；在管理令牌之外再限制来源网段。
// 约束：条目可以是单个 IP 或 CIDR（v4/v6）；列表为空时不限制。realIPHeader 非空时取该头中第一个有效 IP，否则取 RemoteAddr。
type Allowlist struct {
	ips          map[string]struct{}
	nets         []*net.IPNet
	realIPHeader string
}

func NewAllowlist(entries []string, realIPHeader string) (*Allowlist, error) {
	a := &Allowlist{ips: make(map[string]struct{}), realIPHeader: strings.TrimSpace(realIPHeader)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return nil, fmt.Errorf("allowlist entry %q: %w", e, err)
			}
			a.nets = append(a.nets, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("allowlist entry %q: not an IP", e)
		}
		a.ips[ip.String()] = struct{}{}
	}
	return a, nil
}

// Empty：没有任何条目，即不限制
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.ips) == 0 && len(a.nets) == 0)
}

func (a *Allowlist) Allowed(ip net.IP) bool {
	if a.Empty() {
		return true
	}
	if ip == nil {
		return false
	}
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *Allowlist) clientIP(r *http.Request) net.IP {
	if a.realIPHeader != "" {
		if raw := r.Header.Get(a.realIPHeader); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

// Wrap：不在白名单内返回 403
func (a *Allowlist) Wrap(next http.Handler) http.Handler {
	if a.Empty() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.clientIP(r)
		if !a.Allowed(ip) {
			logger.L().Debug("allowlist_block", "ip", ip, "path", r.URL.Path)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
