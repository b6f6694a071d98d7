package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fog-api/internal/api"
	"fog-api/internal/cascade"
	"fog-api/internal/memstore"
	"fog-api/internal/progression"
	"fog-api/internal/visit"
	"fog-api/internal/zone"
)

func newBackend(t *testing.T) (*Client, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	zones := []zone.Zone{{ID: "r1", Level: zone.LevelRegion}, {ID: "d1", Level: zone.LevelDepartment, ParentID: "r1"}}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		zones = append(zones, zone.Zone{ID: id, Level: zone.LevelZone, ParentID: "d1"})
	}
	if err := st.ReplaceZones(ctx, "v3", zones); err != nil {
		t.Fatal(err)
	}
	_ = st.ReplaceLocations(ctx, []visit.Location{{ID: "c1", Kind: visit.KindChest, Lat: 1, Lng: 2}})
	svc := progression.NewService(st, cascade.NewEngine(st))
	srv := httptest.NewServer(api.BuildRoutes(st, svc, api.Options{AdminToken: "tok"}))
	t.Cleanup(srv.Close)
	return New(srv.URL, WithPageSize(2), WithAdminToken("tok")), st
}

func TestFetchCatalogPaginates(t *testing.T) {
	c, _ := newBackend(t)
	ctx := context.Background()
	v, err := c.DataVersion(ctx)
	if err != nil || v != "v3" {
		t.Fatalf("expected v3, got %q %v", v, err)
	}
	zones, err := c.FetchCatalog(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	if len(zones) != 7 {
		t.Errorf("expected 7 zones, got %d", len(zones))
	}
	if _, err := c.FetchCatalog(ctx, "stale"); err == nil {
		t.Error("expected version mismatch error")
	}
}

func TestProgressionRoundTrip(t *testing.T) {
	c, _ := newBackend(t)
	ctx := context.Background()
	row, err := c.CreateProgression(ctx, progression.Progression{GuildID: "g 1", ZoneID: "a", IsCompleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if !row.IsCompleted || row.ZoneID != "a" || row.GuildID != "g 1" {
		t.Errorf("unexpected row %+v", row)
	}
	rows, err := c.ListProgressions(ctx, "g 1")
	if err != nil || len(rows) != 1 {
		t.Errorf("expected 1 row, got %d %v", len(rows), err)
	}
	_, err = c.CreateProgression(ctx, progression.Progression{GuildID: "g1"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("expected 400 status error, got %v", err)
	}
}

func TestVisitFacts(t *testing.T) {
	c, _ := newBackend(t)
	ctx := context.Background()
	if ok, err := c.HasVisitedPOI(ctx, "g1", "c1"); err != nil || ok {
		t.Fatalf("expected not visited, got %v %v", ok, err)
	}
	if err := c.OpenChest(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := c.HasVisitedPOI(ctx, "g1", "c1"); err != nil || !ok {
		t.Errorf("expected visited, got %v %v", ok, err)
	}
	if err := c.EndExpedition(ctx, "g1", "m1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := c.HasRunExpedition(ctx, "g1", "m1"); err != nil || !ok {
		t.Errorf("expected expedition, got %v %v", ok, err)
	}
	locs, err := c.ListLocations(ctx)
	if err != nil || len(locs) != 1 {
		t.Errorf("expected 1 location, got %d %v", len(locs), err)
	}
}

func TestTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	c := New(slow.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	if _, err := c.DataVersion(context.Background()); err == nil {
		t.Error("expected timeout error")
	}
}
