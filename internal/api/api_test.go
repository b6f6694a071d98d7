package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fog-api/internal/cascade"
	"fog-api/internal/geo"
	"fog-api/internal/memstore"
	"fog-api/internal/progression"
	"fog-api/internal/zone"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	sq := geo.NewPolygon(geo.Point{Lat: 0, Lng: 0}, geo.Point{Lat: 0, Lng: 1}, geo.Point{Lat: 1, Lng: 1}, geo.Point{Lat: 1, Lng: 0}, geo.Point{Lat: 0, Lng: 0})
	err := st.ReplaceZones(context.Background(), "v7", []zone.Zone{
		{ID: "r1", Level: zone.LevelRegion},
		{ID: "d1", Level: zone.LevelDepartment, ParentID: "r1"},
		{ID: "A", Level: zone.LevelZone, ParentID: "d1", Geometry: sq},
		{ID: "B", Level: zone.LevelZone, ParentID: "d1"},
		{ID: "C", Level: zone.LevelZone, ParentID: "d1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := progression.NewService(st, cascade.NewEngine(st))
	srv := httptest.NewServer(BuildRoutes(st, svc, opts))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestZonesPagination(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, err := http.Get(srv.URL + "/zones?level=zone&page=2&page_size=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if v := resp.Header.Get("x-data-version"); v != "v7" {
		t.Errorf("expected x-data-version v7, got %q", v)
	}
	var page ZonePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Zones) != 1 || page.Zones[0].ID != "C" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestZonesRejectsUnknownLevel(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, err := http.Get(srv.URL + "/zones?level=planet")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestZonesServedFromRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	srv, _ := newTestServer(t, Options{Redis: rc, CatalogCacheTTL: time.Hour})
	resp, err := http.Get(srv.URL + "/zones?level=department")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !mr.Exists("fog:catalog:v7") {
		t.Error("expected catalog to be cached under its version")
	}
}

func TestCreateProgressionCascades(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	for i, id := range []string{"A", "B", "C"} {
		resp := postJSON(t, srv.URL+"/progressions", progression.Progression{GuildID: "g1", ZoneID: id, IsCompleted: true})
		var res ProgressionResult
		_ = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated || res.Action != progression.ActionCreated {
			t.Fatalf("zone %d: expected 201 created, got %d %s", i, resp.StatusCode, res.Action)
		}
	}
	p, err := st.Find(context.Background(), "g1", zone.Ref{Level: zone.LevelDepartment, ID: "d1"})
	if err != nil || !p.IsCompleted {
		t.Fatalf("expected d1 completed, got %+v %v", p, err)
	}
	resp, err := http.Get(srv.URL + "/guilds/g1/progressions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rows []progression.Progression
	_ = json.NewDecoder(resp.Body).Decode(&rows)
	if len(rows) != 5 {
		t.Errorf("expected 5 rows (3 zones, department, region), got %d", len(rows))
	}
}

func TestCreateProgressionValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := postJSON(t, srv.URL+"/progressions", map[string]any{"guildId": "g1", "zoneId": "A", "departmentId": "d1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateProgressionDeduped(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	srv, st := newTestServer(t, Options{Redis: rc, DedupTTL: time.Minute})
	body := progression.Progression{GuildID: "g1", ZoneID: "A", IsCompleted: true}
	first := postJSON(t, srv.URL+"/progressions", body)
	first.Body.Close()
	second := postJSON(t, srv.URL+"/progressions", body)
	var res ProgressionResult
	_ = json.NewDecoder(second.Body).Decode(&res)
	second.Body.Close()
	if second.StatusCode != http.StatusOK || res.Action != progression.ActionNoop || !res.Progression.IsCompleted {
		t.Errorf("expected deduped noop, got %d %+v", second.StatusCode, res)
	}
	if st.Rows() != 1 {
		t.Errorf("expected one row, got %d", st.Rows())
	}
}

func TestVisitFactsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{AdminToken: "secret"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/guilds/g1/chests/c1/open", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/guilds/g1/chests/c1/open", nil)
	req.Header.Set("x-admin-token", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/guilds/g1/chests/c1")
	if err != nil {
		t.Fatal(err)
	}
	var v visitedResult
	_ = json.NewDecoder(resp.Body).Decode(&v)
	resp.Body.Close()
	if !v.Visited {
		t.Error("expected chest visited")
	}
	resp, err = http.Get(srv.URL + "/guilds/g1/museums/m1")
	if err != nil {
		t.Fatal(err)
	}
	_ = json.NewDecoder(resp.Body).Decode(&v)
	resp.Body.Close()
	if v.Visited {
		t.Error("expected museum not visited")
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
