// 包 config：服务与客户端的可调参数；.env 由入口通过 godotenv 预先加载，这里只做类型化解析
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// 文档注释：运行配置
// 背景：发现引擎的阈值、网格步长、去重距离等均可调；连接参数仍由 utils.OpenPostgresFromEnv/OpenRedisFromEnv 读取 PG_*/REDIS_*。
// 约束：默认值即为设计值（阈值 0.5、步长 0.01°、去重 20m、容差 0.1°）。
type Config struct {
	Addr    string `env:"ADDR" envDefault:":8080"`
	APIBase string `env:"API_BASE" envDefault:"/api"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`
	SeedDir      string `env:"SEED_DIR" envDefault:"data/seed"`

	GridStepDeg         float64       `env:"GRID_STEP_DEG" envDefault:"0.01"`
	CompletionThreshold float64       `env:"COMPLETION_THRESHOLD" envDefault:"0.5"`
	PointDedupMeters    float64       `env:"POINT_DEDUP_M" envDefault:"20"`
	LocatorTolDeg       float64       `env:"LOCATOR_TOL_DEG" envDefault:"0.1"`
	LocatorCacheSize    int           `env:"LOCATOR_CACHE_SIZE" envDefault:"4096"`
	CommitTimeout       time.Duration `env:"COMMIT_TIMEOUT" envDefault:"5s"`

	CatalogCacheTTL     time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"24h"`
	CatalogCacheDir     string        `env:"CATALOG_CACHE_DIR" envDefault:"data/catalog"`
	ProgressionDedupTTL time.Duration `env:"PROGRESSION_DEDUP_TTL" envDefault:"10s"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"false"`
	RateLimitQPS     int  `env:"RATE_LIMIT_QPS" envDefault:"200"`

	TLSEnable   bool   `env:"TLS_ENABLE" envDefault:"false"`
	TLSCertPath string `env:"TLS_CERT_PATH" envDefault:"data/certs/server.crt"`
	TLSKeyPath  string `env:"TLS_KEY_PATH" envDefault:"data/certs/server.key"`

	AdminToken   string   `env:"ADMIN_TOKEN"`
	AdminAllow   []string `env:"ADMIN_ALLOW" envSeparator:","`
	RealIPHeader string   `env:"REAL_IP_HEADER"`
	APIURL       string   `env:"FOG_API_URL" envDefault:"http://localhost:8080/api"`
}

// Load：解析环境变量
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate：拒绝会导致除零或永不触发的参数
func (c Config) Validate() error {
	if c.GridStepDeg <= 0 {
		return fmt.Errorf("GRID_STEP_DEG must be > 0, got %v", c.GridStepDeg)
	}
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 1 {
		return fmt.Errorf("COMPLETION_THRESHOLD must be in (0, 1], got %v", c.CompletionThreshold)
	}
	if c.PointDedupMeters < 0 {
		return fmt.Errorf("POINT_DEDUP_M must be >= 0, got %v", c.PointDedupMeters)
	}
	if c.StoreBackend != "postgres" && c.StoreBackend != "memory" {
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend)
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("COMMIT_TIMEOUT must be > 0, got %v", c.CommitTimeout)
	}
	return nil
}
