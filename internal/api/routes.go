// 包 api：区域目录、完成记录与访问事实的 HTTP 接口；发现引擎客户端通过它访问服务端
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fog-api/internal/catalogcache"
	"fog-api/internal/metrics"
	"fog-api/internal/middleware"
	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Backend：接口层所需的存储能力，store.Store 与 memstore.Store 均满足
type Backend interface {
	Ping(ctx context.Context) error
	DataVersion(ctx context.Context) (string, error)
	ListZones(ctx context.Context, level zone.Level, offset, limit int) ([]zone.Zone, int, error)
	ListLocations(ctx context.Context) ([]visit.Location, error)
	Find(ctx context.Context, guildID string, ref zone.Ref) (*progression.Progression, error)
	RecordChestOpened(ctx context.Context, guildID, poiID string) error
	RecordExpedition(ctx context.Context, guildID, museumID string) error
	HasVisitedPOI(ctx context.Context, guildID, poiID string) (bool, error)
	HasRunExpedition(ctx context.Context, guildID, museumID string) (bool, error)
}

// Options：可选依赖；Redis 为空时目录缓存与提交去重均退化为直通
type Options struct {
	Redis           *redis.Client
	CatalogCacheTTL time.Duration
	DedupTTL        time.Duration
	AdminToken      string
	// AdminAllow 为空时不限制来源
	AdminAllow *middleware.Allowlist
}

type Server struct {
	backend      Backend
	progressions *progression.Service
	catalog      *catalogcache.Loader
	dedup        *submitDedup
	rc           *redis.Client
	adminToken   string
	adminAllow   *middleware.Allowlist
}

func New(b Backend, svc *progression.Service, opts Options) *Server {
	s := &Server{
		backend:      b,
		progressions: svc,
		dedup:        newSubmitDedup(opts.Redis, opts.DedupTTL),
		rc:           opts.Redis,
		adminToken:   opts.AdminToken,
		adminAllow:   opts.AdminAllow,
	}
	s.catalog = catalogcache.NewLoader(catalogcache.NewRedisCache(opts.Redis, opts.CatalogCacheTTL), s.fetchCatalog)
	return s
}

// 构建并返回 API 路由：由主入口挂载到 API_BASE 前缀下
func BuildRoutes(b Backend, svc *progression.Service, opts Options) http.Handler {
	return New(b, svc, opts).Routes()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(routeMetrics)

	r.Get("/healthz", s.handleHealth)
	r.Get("/catalog/version", s.handleCatalogVersion)
	r.Get("/zones", s.handleListZones)
	r.Get("/locations", s.handleListLocations)
	r.Post("/progressions", s.handleCreateProgression)

	r.Route("/guilds/{guildID}", func(r chi.Router) {
		r.Get("/progressions", s.handleListProgressions)
		r.Get("/chests/{poiID}", s.handleChestVisited)
		r.Get("/museums/{museumID}", s.handleMuseumVisited)
		r.Group(func(r chi.Router) {
			r.Use(s.adminAllow.Wrap, middleware.AdminToken(s.adminToken))
			r.Post("/chests/{poiID}/open", s.handleChestOpened)
			r.Post("/museums/{museumID}/expeditions", s.handleExpedition)
		})
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// routeMetrics：按路由模板统计，避免把公会 id 带进标签
func routeMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
