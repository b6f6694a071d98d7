package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"fog-api/internal/catalogcache"
	"fog-api/internal/client"
	"fog-api/internal/config"
	"fog-api/internal/discovery"
	"fog-api/internal/fog"
	"fog-api/internal/logger"
	"fog-api/internal/track"
	"fog-api/internal/utils"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// 文档注释：轨迹回放工具
// 背景：把录制好的 GPX 轨迹逐点送入发现引擎，经由 HTTP 接口提交完成记录；用于联调与数据验收。
// 约束：目录缓存写入 CATALOG_CACHE_DIR；Redis 可用时会话快照按公会保存，重复回放会延续之前的覆盖。
func main() {
	_ = godotenv.Load(".env")
	logger.Setup()

	cmd := &cobra.Command{
		Use:          "fog-replay <guild-id> <track.gpx>...",
		Short:        "Replay GPX tracks through the discovery engine",
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().String("api", "", "API base URL (default FOG_API_URL)")
	cmd.Flags().Float64("threshold", 0, "completion threshold override")
	cmd.Flags().Bool("visits", false, "also run visit coverage at every known location the track passes through")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	apiURL, _ := cmd.Flags().GetString("api")
	if apiURL == "" {
		apiURL = cfg.APIURL
	}
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if threshold <= 0 {
		threshold = cfg.CompletionThreshold
	}
	withVisits, _ := cmd.Flags().GetBool("visits")

	api := client.New(apiURL, client.WithAdminToken(cfg.AdminToken))
	deps := discovery.Deps{
		Catalog:      api,
		Progressions: api,
		Facts:        api,
		Locations:    api,
	}
	var shared *redis.Client
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.L().Warn("redis_ping_error", "err", err)
		} else {
			shared = rc
			deps.Sessions = fog.NewRedisSessionStore(rc, cfg.SessionTTL)
		}
	}
	deps.Cache = catalogcache.ClientTiers(cfg.CatalogCacheDir, shared, cfg.CatalogCacheTTL)

	guildID := args[0]
	eng := discovery.New(discovery.Config{
		GuildID:          guildID,
		Threshold:        threshold,
		GridStepDeg:      cfg.GridStepDeg,
		PointDedupM:      cfg.PointDedupMeters,
		LocatorTolDeg:    cfg.LocatorTolDeg,
		LocatorCacheSize: cfg.LocatorCacheSize,
		CommitTimeout:    cfg.CommitTimeout,
	}, deps)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var locs []visit.Location
	seenZones := make(map[string]bool)
	if withVisits {
		if locs, err = api.ListLocations(ctx); err != nil {
			return fmt.Errorf("list locations: %w", err)
		}
	}

	outcomes := make(map[discovery.Outcome]int)
	var committed []string
	samples := 0
	for _, path := range args[1:] {
		pts, err := track.LoadGPXFile(path)
		if err != nil {
			return err
		}
		logger.L().Info("replay_track", "file", path, "samples", len(pts))
		for _, p := range pts {
			if ctx.Err() != nil {
				break
			}
			samples++
			c := eng.CheckFogCoverage(ctx, p.Lat, p.Lng)
			outcomes[c.Outcome]++
			if c.Outcome == discovery.OutcomeCommitted {
				committed = append(committed, c.ZoneID)
			}
			if withVisits && c.ZoneID != "" && !seenZones[c.ZoneID] {
				seenZones[c.ZoneID] = true
				for _, l := range locationsIn(eng, c.ZoneID, locs) {
					vc := eng.CheckVisitCoverage(ctx, l.Lat, l.Lng)
					if vc.Outcome == discovery.OutcomeCommitted {
						committed = append(committed, vc.ZoneID)
					}
				}
			}
		}
	}
	if err := eng.Flush(ctx); err != nil {
		logger.L().Warn("session_flush_error", "err", err)
	}

	fmt.Printf("guild=%s samples=%d committed=%d\n", guildID, samples, len(committed))
	keys := make([]string, 0, len(outcomes))
	for o := range outcomes {
		keys = append(keys, string(o))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-18s %d\n", k, outcomes[discovery.Outcome(k)])
	}
	for _, id := range committed {
		fmt.Println("completed zone:", id)
	}
	for _, lvl := range []zone.Level{zone.LevelDepartment, zone.LevelRegion} {
		for _, id := range eng.Completed(lvl) {
			fmt.Printf("completed %s: %s\n", lvl, id)
		}
	}
	return ctx.Err()
}

// locationsIn：轨迹首次进入区域时，区域内的已知地点逐个送入到访路径
func locationsIn(eng *discovery.Engine, zoneID string, all []visit.Location) []visit.Location {
	z, ok := eng.Zone(zoneID)
	if !ok {
		return nil
	}
	var out []visit.Location
	for _, l := range all {
		if z.Contains(l.Point()) {
			out = append(out, l)
		}
	}
	return out
}
