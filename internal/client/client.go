// 包 client：发现引擎访问服务端的 HTTP 客户端（目录、完成记录、访问事实）
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"
)

// StatusError：非 2xx 响应
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.Code, e.Body)
}

// 文档注释：服务端客户端
// 背景：引擎只依赖接口，这里是其 HTTP 实现；每次调用都带上下文，底层 http.Client 另有整体超时。
// 约束：httpClient 为空时使用 5s 超时的默认客户端；每次调用按端点记录次数、状态与耗时。
type Client struct {
	base       string
	http       *http.Client
	adminToken string
	pageSize   int
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithAdminToken(token string) Option { return func(cl *Client) { cl.adminToken = token } }

func WithPageSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.pageSize = n
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 5 * time.Second},
		pageSize: 500,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("accept", "application/json")
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("x-admin-token", c.adminToken)
	}
	t0 := time.Now()
	resp, err := c.http.Do(req)
	dur := time.Since(t0).Milliseconds()
	metrics.APIDurationMs.WithLabelValues(endpoint).Observe(float64(dur))
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		logger.L().Warn("api_http_error", "endpoint", endpoint, "err", err)
		return 0, err
	}
	defer resp.Body.Close()
	metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	logger.L().Debug("api_resp", "endpoint", endpoint, "status", resp.StatusCode, "duration_ms", dur)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			logger.L().Warn("api_decode_error", "endpoint", endpoint, "err", err)
			return resp.StatusCode, fmt.Errorf("%s: decode: %w", endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

// DataVersion：目录版本
func (c *Client) DataVersion(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if _, err := c.do(ctx, "catalog_version", http.MethodGet, "/catalog/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ZonePage：一页区域
type ZonePage struct {
	Version  string      `json:"version"`
	Level    zone.Level  `json:"level"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
	Zones    []zone.Zone `json:"zones"`
}

// ListZones：按层级分页，page 从 1 开始
func (c *Client) ListZones(ctx context.Context, level zone.Level, page, pageSize int) (ZonePage, error) {
	q := url.Values{}
	q.Set("level", string(level))
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out ZonePage
	_, err := c.do(ctx, "zones", http.MethodGet, "/zones?"+q.Encode(), nil, &out)
	return out, err
}

// 文档注释：拉取完整目录
// 背景：逐层逐页读取，直到累计数量达到服务端给出的总数；可直接作为 catalogcache.FetchFunc。
// 约束：翻页期间版本变化视为错误，由调用方在下次加载时重试。
func (c *Client) FetchCatalog(ctx context.Context, version string) ([]zone.Zone, error) {
	var all []zone.Zone
	for _, level := range zone.Levels {
		got := 0
		for page := 1; ; page++ {
			p, err := c.ListZones(ctx, level, page, c.pageSize)
			if err != nil {
				return nil, err
			}
			if version != "" && p.Version != version {
				return nil, fmt.Errorf("catalog version changed during fetch: %s -> %s", version, p.Version)
			}
			all = append(all, p.Zones...)
			got += len(p.Zones)
			if len(p.Zones) == 0 || got >= p.Total {
				break
			}
		}
	}
	logger.L().Debug("catalog_fetch_done", "version", version, "zones", len(all))
	return all, nil
}

func (c *Client) ListLocations(ctx context.Context) ([]visit.Location, error) {
	var out []visit.Location
	_, err := c.do(ctx, "locations", http.MethodGet, "/locations", nil, &out)
	return out, err
}

func (c *Client) ListProgressions(ctx context.Context, guildID string) ([]progression.Progression, error) {
	var out []progression.Progression
	_, err := c.do(ctx, "list_progressions", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/progressions", nil, &out)
	return out, err
}

// CreateProgression：服务端先查后写并同步执行级联；返回最终行
func (c *Client) CreateProgression(ctx context.Context, req progression.Progression) (progression.Progression, error) {
	var out struct {
		Progression progression.Progression `json:"progression"`
		Action      progression.Action      `json:"action"`
	}
	if _, err := c.do(ctx, "create_progression", http.MethodPost, "/progressions", req, &out); err != nil {
		return progression.Progression{}, err
	}
	logger.L().Debug("progression_committed", "guild", out.Progression.GuildID, "action", out.Action)
	return out.Progression, nil
}

type visited struct {
	Visited bool `json:"visited"`
}

func (c *Client) HasVisitedPOI(ctx context.Context, guildID, poiID string) (bool, error) {
	var out visited
	_, err := c.do(ctx, "chest_visited", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/chests/"+url.PathEscape(poiID), nil, &out)
	return out.Visited, err
}

func (c *Client) HasRunExpedition(ctx context.Context, guildID, museumID string) (bool, error) {
	var out visited
	_, err := c.do(ctx, "museum_visited", http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/museums/"+url.PathEscape(museumID), nil, &out)
	return out.Visited, err
}

func (c *Client) OpenChest(ctx context.Context, guildID, poiID string) error {
	_, err := c.do(ctx, "open_chest", http.MethodPost, "/guilds/"+url.PathEscape(guildID)+"/chests/"+url.PathEscape(poiID)+"/open", nil, nil)
	return err
}

func (c *Client) EndExpedition(ctx context.Context, guildID, museumID string) error {
	_, err := c.do(ctx, "end_expedition", http.MethodPost, "/guilds/"+url.PathEscape(guildID)+"/museums/"+url.PathEscape(museumID)+"/expeditions", nil, nil)
	return err
}
