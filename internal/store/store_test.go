package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"fog-api/internal/geo"
	"fog-api/internal/migrate"
	"fog-api/internal/progression"
	"fog-api/internal/zone"

	"github.com/google/uuid"
)

// openTestStore 需要 FOG_TEST_PG_DSN 指向一个可丢弃的数据库
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("FOG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FOG_TEST_PG_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	s := AttachDB(db)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, s.DB()); err != nil {
		t.Fatal(err)
	}
	for _, tbl := range []string{"_fog_progressions", "_fog_zones", "_fog_catalog_version", "_fog_chest_visits", "_fog_museum_expeditions", "_fog_locations"} {
		if _, err := s.DB().ExecContext(ctx, "TRUNCATE "+tbl); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestZonesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	zones := []zone.Zone{
		{ID: "r1", Level: zone.LevelRegion, Name: "Region"},
		{ID: "d1", Level: zone.LevelDepartment, ParentID: "r1"},
		{ID: "z1", Level: zone.LevelZone, ParentID: "d1", Geometry: geo.NewPolygon(
			geo.Point{Lat: 0, Lng: 0}, geo.Point{Lat: 0, Lng: 1}, geo.Point{Lat: 1, Lng: 1}, geo.Point{Lat: 0, Lng: 0})},
		{ID: "z2", Level: zone.LevelZone, ParentID: "d1"},
	}
	if err := s.ReplaceZones(ctx, "v1", zones); err != nil {
		t.Fatal(err)
	}
	if v, err := s.DataVersion(ctx); err != nil || v != "v1" {
		t.Fatalf("expected v1, got %q %v", v, err)
	}
	got, total, err := s.ListZones(ctx, zone.LevelZone, 0, 1)
	if err != nil || total != 2 || len(got) != 1 || got[0].ID != "z1" || got[0].Geometry == nil {
		t.Fatalf("unexpected page: %+v total=%d err=%v", got, total, err)
	}
	parent, ok, err := s.ZoneParent(ctx, zone.Ref{Level: zone.LevelZone, ID: "z1"})
	if err != nil || !ok || parent.ID != "d1" {
		t.Errorf("expected parent d1, got %+v %v %v", parent, ok, err)
	}
	if _, ok, err := s.ZoneParent(ctx, zone.Ref{Level: zone.LevelRegion, ID: "r1"}); err != nil || ok {
		t.Errorf("expected top level, got ok=%v err=%v", ok, err)
	}
	if n, err := s.CountChildren(ctx, zone.Ref{Level: zone.LevelDepartment, ID: "d1"}); err != nil || n != 2 {
		t.Errorf("expected 2 children, got %d %v", n, err)
	}
}

func TestProgressionUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReplaceZones(ctx, "v1", []zone.Zone{
		{ID: "d1", Level: zone.LevelDepartment},
		{ID: "z1", Level: zone.LevelZone, ParentID: "d1"},
	}); err != nil {
		t.Fatal(err)
	}
	ref := zone.Ref{Level: zone.LevelZone, ID: "z1"}
	if _, err := s.Find(ctx, "g1", ref); !errors.Is(err, progression.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p := progression.New("g1", ref, false)
	created, err := s.Insert(ctx, &p)
	if err != nil || !created || p.ID == uuid.Nil {
		t.Fatalf("expected created row, got %v %v", created, err)
	}
	again := progression.New("g1", ref, true)
	created, err = s.Insert(ctx, &again)
	if err != nil || created || !again.IsCompleted || again.ID != p.ID {
		t.Fatalf("expected merged row, got %+v created=%v err=%v", again, created, err)
	}
	stale := progression.New("g1", ref, false)
	if _, err := s.Insert(ctx, &stale); err != nil || !stale.IsCompleted {
		t.Errorf("completion must not regress, got %+v %v", stale, err)
	}
	if n, err := s.CountCompletedChildren(ctx, "g1", zone.Ref{Level: zone.LevelDepartment, ID: "d1"}); err != nil || n != 1 {
		t.Errorf("expected 1 completed child, got %d %v", n, err)
	}
	rows, err := s.ListByGuild(ctx, "g1")
	if err != nil || len(rows) != 1 {
		t.Errorf("expected one row, got %d %v", len(rows), err)
	}
}

func TestVisitFacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.RecordChestOpened(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordChestOpened(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.HasVisitedPOI(ctx, "g1", "c1"); err != nil || !ok {
		t.Errorf("expected visited, got %v %v", ok, err)
	}
	if ok, err := s.HasRunExpedition(ctx, "g1", "m1"); err != nil || ok {
		t.Errorf("expected no expedition, got %v %v", ok, err)
	}
	var runs int
	_ = s.RecordExpedition(ctx, "g1", "m1")
	_ = s.RecordExpedition(ctx, "g1", "m1")
	if err := s.DB().QueryRowContext(ctx, `SELECT runs FROM _fog_museum_expeditions WHERE guild_id='g1' AND museum_id='m1'`).Scan(&runs); err != nil && !errors.Is(err, sql.ErrNoRows) {
		t.Fatal(err)
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}
