package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"fog-api/internal/logger"
	"fog-api/internal/migrate"
	"fog-api/internal/store"
	"fog-api/internal/utils"
	"fog-api/internal/visit"
	"fog-api/internal/zone"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// 文档注释：区域目录导入工具
// 背景：从 GeoJSON FeatureCollection 目录导入 region/department/zone 三级森林，整体替换后更新目录版本；客户端据版本号判断是否需要重新拉取。
// 约束：默认遇到孤儿节点只告警；--strict 时任何校验问题都拒绝导入。数据库连接参数沿用 PG_* 环境变量。
func main() {
	_ = godotenv.Load(".env")
	logger.Setup()

	root := &cobra.Command{
		Use:          "zone-import",
		Short:        "Import zone catalogs and POI/museum locations into Postgres",
		SilenceUsage: true,
	}
	root.AddCommand(zonesCmd(), locationsCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func zonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones <dir>",
		Short: "Replace the zone catalog with the GeoJSON files in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strict, _ := cmd.Flags().GetBool("strict")
			version, _ := cmd.Flags().GetString("version")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			zones, err := zone.LoadGeoJSONDir(args[0])
			if err != nil {
				return err
			}
			if len(zones) == 0 {
				return fmt.Errorf("no zones found in %s", args[0])
			}
			rep := zone.Validate(zones)
			logger.L().Info("zone_import_validated", "dir", args[0], "report", rep.String())
			if !rep.OK() {
				logger.L().Warn("zone_import_problems", "invalid", rep.Invalid, "duplicates", rep.Duplicates, "orphans", rep.Orphans)
				if strict {
					return fmt.Errorf("catalog has problems: %s", rep)
				}
			}
			if version == "" {
				if version, err = zone.ContentVersion(zones); err != nil {
					return err
				}
			}
			if dryRun {
				fmt.Printf("version=%s %s\n", version, rep)
				return nil
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				if err := s.ReplaceZones(ctx, version, zones); err != nil {
					return err
				}
				logger.L().Info("zone_import_done", "version", version, "zones", len(zones))
				fmt.Printf("imported %d zones, version=%s\n", len(zones), version)
				return nil
			})
		},
	}
	cmd.Flags().Bool("strict", false, "refuse to import when validation finds problems")
	cmd.Flags().String("version", "", "catalog version to record (default: content hash)")
	cmd.Flags().Bool("dry-run", false, "validate and print the version without writing")
	return cmd
}

func locationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locations <file.json>",
		Short: "Replace POI and museum locations from a JSON list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := visit.LoadLocationsFile(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				if err := s.ReplaceLocations(ctx, locs); err != nil {
					return err
				}
				logger.L().Info("location_import_done", "file", args[0], "locations", len(locs))
				fmt.Printf("imported %d locations\n", len(locs))
				return nil
			})
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a GeoJSON catalog without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zones, err := zone.LoadGeoJSONDir(args[0])
			if err != nil {
				return err
			}
			rep := zone.Validate(zones)
			fmt.Println(rep)
			for _, id := range rep.Orphans {
				fmt.Println("orphan:", id)
			}
			for _, id := range rep.Duplicates {
				fmt.Println("duplicate:", id)
			}
			for _, id := range rep.MissingGeometry {
				fmt.Println("missing geometry:", id)
			}
			if !rep.OK() {
				return fmt.Errorf("catalog has problems")
			}
			return nil
		},
	}
}

func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := utils.PingDB(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return fn(ctx, store.AttachDB(db))
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
