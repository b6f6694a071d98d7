package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fog-api/internal/logger"
	"fog-api/internal/metrics"
	"fog-api/internal/progression"
	"fog-api/internal/zone"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ZonePage：/zones 响应
type ZonePage struct {
	Version  string      `json:"version"`
	Level    zone.Level  `json:"level"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
	Zones    []zone.Zone `json:"zones"`
}

// ProgressionResult：POST /progressions 响应
type ProgressionResult struct {
	Progression progression.Progression `json:"progression"`
	Action      progression.Action      `json:"action"`
}

type visitedResult struct {
	Visited bool `json:"visited"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{"db": "ok", "redis": "disabled"}
	status := http.StatusOK
	if err := s.backend.Ping(r.Context()); err != nil {
		out["db"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.rc != nil {
		if err := s.rc.Ping(r.Context()).Err(); err != nil {
			out["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			out["redis"] = "ok"
		}
	}
	writeJSON(w, status, out)
}

func (s *Server) handleCatalogVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.backend.DataVersion(r.Context())
	if err != nil {
		logger.L().Error("catalog_version_error", "err", err)
		writeError(w, http.StatusInternalServerError, "catalog version unavailable")
		return
	}
	w.Header().Set("x-data-version", v)
	writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

// fetchCatalog：目录缓存未命中时从存储读取全部层级
func (s *Server) fetchCatalog(ctx context.Context, version string) ([]zone.Zone, error) {
	var all []zone.Zone
	for _, l := range zone.Levels {
		zs, _, err := s.backend.ListZones(ctx, l, 0, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, zs...)
	}
	logger.L().Debug("catalog_fetched", "version", version, "zones", len(all))
	return all, nil
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	level, err := zone.ParseLevel(q.Get("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "level must be one of region, department, zone")
		return
	}
	page := intParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	size := intParam(q.Get("page_size"), defaultPageSize)
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}
	version, err := s.backend.DataVersion(ctx)
	if err != nil {
		logger.L().Error("catalog_version_error", "err", err)
		writeError(w, http.StatusInternalServerError, "catalog version unavailable")
		return
	}
	all, err := s.catalog.Load(ctx, version)
	if err != nil {
		logger.L().Error("catalog_load_error", "version", version, "err", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	var ofLevel []zone.Zone
	for _, z := range all {
		if z.Level == level {
			ofLevel = append(ofLevel, z)
		}
	}
	out := ZonePage{Version: version, Level: level, Page: page, PageSize: size, Total: len(ofLevel), Zones: []zone.Zone{}}
	if start := (page - 1) * size; start < len(ofLevel) {
		end := min(start+size, len(ofLevel))
		out.Zones = ofLevel[start:end]
	}
	w.Header().Set("x-data-version", version)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := s.backend.ListLocations(r.Context())
	if err != nil {
		logger.L().Error("locations_list_error", "err", err)
		writeError(w, http.StatusInternalServerError, "locations unavailable")
		return
	}
	if locs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) handleListProgressions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.progressions.List(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		s.progressionError(w, err)
		return
	}
	if rows == nil {
		rows = []progression.Progression{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// 文档注释：创建完成记录
// 背景：客户端调用语义为“类 upsert”；重复提交在去重窗口内且库中行已满足请求时直接返回现有行。
// 返回：新建 201，其余 200；body 含最终行与本次动作。
func (s *Server) handleCreateProgression(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req progression.Progression
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.Validate(); err != nil {
		s.progressionError(w, err)
		return
	}
	ref, _ := req.Ref()
	fingerprint := ref.String() + "|" + strconv.FormatBool(req.IsCompleted)
	seen, err := s.dedup.seen(ctx, req.GuildID, fingerprint)
	if err != nil {
		logger.L().Warn("progression_dedup_error", "guild", req.GuildID, "err", err)
	}
	if seen {
		if existing, err := s.backend.Find(ctx, req.GuildID, ref); err == nil && (existing.IsCompleted || !req.IsCompleted) {
			metrics.ProgressionWritesTotal.WithLabelValues("deduped").Inc()
			logger.L().Debug("progression_deduped", "guild", req.GuildID, "ref", ref.String())
			writeJSON(w, http.StatusOK, ProgressionResult{Progression: *existing, Action: progression.ActionNoop})
			return
		}
	}
	row, action, err := s.progressions.Create(ctx, req)
	if err != nil {
		s.progressionError(w, err)
		return
	}
	status := http.StatusOK
	if action == progression.ActionCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, ProgressionResult{Progression: row, Action: action})
}

func (s *Server) progressionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progression.ErrNoGuild), errors.Is(err, progression.ErrInvalidRef):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.L().Error("progression_error", "err", err)
		writeError(w, http.StatusInternalServerError, "progression write failed")
	}
}

func (s *Server) handleChestOpened(w http.ResponseWriter, r *http.Request) {
	guild, poi := chi.URLParam(r, "guildID"), chi.URLParam(r, "poiID")
	if err := s.backend.RecordChestOpened(r.Context(), guild, poi); err != nil {
		logger.L().Error("chest_record_error", "guild", guild, "poi", poi, "err", err)
		writeError(w, http.StatusInternalServerError, "record failed")
		return
	}
	logger.L().Debug("chest_opened", "guild", guild, "poi", poi)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpedition(w http.ResponseWriter, r *http.Request) {
	guild, museum := chi.URLParam(r, "guildID"), chi.URLParam(r, "museumID")
	if err := s.backend.RecordExpedition(r.Context(), guild, museum); err != nil {
		logger.L().Error("expedition_record_error", "guild", guild, "museum", museum, "err", err)
		writeError(w, http.StatusInternalServerError, "record failed")
		return
	}
	logger.L().Debug("expedition_ended", "guild", guild, "museum", museum)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChestVisited(w http.ResponseWriter, r *http.Request) {
	ok, err := s.backend.HasVisitedPOI(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "poiID"))
	if err != nil {
		logger.L().Error("chest_lookup_error", "err", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, visitedResult{Visited: ok})
}

func (s *Server) handleMuseumVisited(w http.ResponseWriter, r *http.Request) {
	ok, err := s.backend.HasRunExpedition(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "museumID"))
	if err != nil {
		logger.L().Error("museum_lookup_error", "err", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, visitedResult{Visited: ok})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
