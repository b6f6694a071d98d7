// 程序入口：读取配置、初始化存储与缓存、挂载 API 并启动服务；路由注册在 internal/api
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fog-api/internal/api"
	"fog-api/internal/cascade"
	"fog-api/internal/config"
	"fog-api/internal/logger"
	"fog-api/internal/memstore"
	"fog-api/internal/middleware"
	"fog-api/internal/migrate"
	"fog-api/internal/progression"
	"fog-api/internal/store"
	"fog-api/internal/utils"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/joho/godotenv"
)

// backend：接口层与级联共同依赖的存储能力
type backend interface {
	api.Backend
	cascade.Repository
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase, "backend", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var be backend
	switch cfg.StoreBackend {
	case "memory":
		ms := memstore.New()
		if err := seedMemory(ctx, ms, cfg.SeedDir); err != nil {
			l.Error("seed_error", "dir", cfg.SeedDir, "err", err)
			os.Exit(1)
		}
		be = ms
	default:
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := utils.PingDB(ctx, db, 5*time.Second); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		be = store.AttachDB(db)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	allow, err := middleware.NewAllowlist(cfg.AdminAllow, cfg.RealIPHeader)
	if err != nil {
		l.Error("admin_allow_error", "err", err)
		os.Exit(1)
	}

	svc := progression.NewService(be, cascade.NewEngine(be))
	apiHandler := api.BuildRoutes(be, svc, api.Options{
		Redis:           rc,
		CatalogCacheTTL: cfg.CatalogCacheTTL,
		DedupTTL:        cfg.ProgressionDedupTTL,
		AdminToken:      cfg.AdminToken,
		AdminAllow:      allow,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiHandler))

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.RateLimit(cfg.RateLimitEnabled, cfg.RateLimitQPS)(handler)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 120 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	if err := serve(s, cfg, l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}

func serve(s *http.Server, cfg *config.Config, l *slog.Logger) error {
	if !cfg.TLSEnable {
		l.Info("listening", "addr", cfg.Addr)
		return s.ListenAndServe()
	}
	if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "fog-api.local"); err != nil {
		return err
	}
	l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
	return s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
}

// seedMemory：内存后端从 SEED_DIR 读取 *.geojson 与 locations.json；目录不存在时以空目录启动
func seedMemory(ctx context.Context, ms *memstore.Store, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.L().Info("seed_dir_missing", "dir", dir)
		return nil
	}
	zones, err := zone.LoadGeoJSONDir(dir)
	if err != nil {
		return err
	}
	version, err := zone.ContentVersion(zones)
	if err != nil {
		return err
	}
	if err := ms.ReplaceZones(ctx, version, zones); err != nil {
		return err
	}
	locPath := filepath.Join(dir, "locations.json")
	if _, err := os.Stat(locPath); err == nil {
		locs, err := visit.LoadLocationsFile(locPath)
		if err != nil {
			return err
		}
		if err := ms.ReplaceLocations(ctx, locs); err != nil {
			return err
		}
	}
	logger.L().Info("seed_loaded", "dir", dir, "zones", len(zones), "version", version)
	return nil
}
