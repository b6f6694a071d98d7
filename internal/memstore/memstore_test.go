package memstore

import (
	"context"
	"testing"
	"time"

	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"
)

func TestListZonesPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.ReplaceZones(ctx, "v2", []zone.Zone{
		{ID: "d1", Level: zone.LevelDepartment},
		{ID: "a", Level: zone.LevelZone, ParentID: "d1"},
		{ID: "b", Level: zone.LevelZone, ParentID: "d1"},
		{ID: "c", Level: zone.LevelZone, ParentID: "d1"},
	})
	page, total, _ := s.ListZones(ctx, zone.LevelZone, 2, 2)
	if total != 3 || len(page) != 1 || page[0].ID != "c" {
		t.Errorf("unexpected page %+v total=%d", page, total)
	}
	page, _, _ = s.ListZones(ctx, zone.LevelZone, 5, 2)
	if len(page) != 0 {
		t.Errorf("expected empty page, got %d", len(page))
	}
	if v, _ := s.DataVersion(ctx); v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}
}

func TestInsertMergesCompletion(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ctx := context.Background()
	ref := zone.Ref{Level: zone.LevelZone, ID: "z"}

	p := progression.New("g", ref, true)
	if created, err := s.Insert(ctx, &p); err != nil || !created {
		t.Fatalf("expected created, got %v %v", created, err)
	}
	q := progression.New("g", ref, false)
	if created, err := s.Insert(ctx, &q); err != nil || created || !q.IsCompleted || q.ID != p.ID {
		t.Errorf("expected merge into completed row, got %+v created=%v", q, created)
	}
	if !p.CreatedAt.Equal(base) {
		t.Errorf("expected created_at %v, got %v", base, p.CreatedAt)
	}
}

func TestVisitFacts(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.RecordChestOpened(ctx, "g", "c1")
	_ = s.RecordExpedition(ctx, "g", "m1")
	if ok, _ := s.HasVisitedPOI(ctx, "g", "c1"); !ok {
		t.Error("expected chest visited")
	}
	if ok, _ := s.HasVisitedPOI(ctx, "other", "c1"); ok {
		t.Error("visits are per guild")
	}
	if ok, _ := s.HasRunExpedition(ctx, "g", "m1"); !ok {
		t.Error("expected expedition")
	}
	_ = s.ReplaceLocations(ctx, []visit.Location{{ID: "c1", Kind: visit.KindChest}})
	if locs, _ := s.ListLocations(ctx); len(locs) != 1 {
		t.Errorf("expected 1 location, got %d", len(locs))
	}
}
