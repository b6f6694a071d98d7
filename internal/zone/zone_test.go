package zone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fog-api/internal/geo"
)

func square(minLat, minLng, size float64) *geo.Geometry {
	return geo.NewPolygon(
		geo.Point{Lat: minLat, Lng: minLng},
		geo.Point{Lat: minLat, Lng: minLng + size},
		geo.Point{Lat: minLat + size, Lng: minLng + size},
		geo.Point{Lat: minLat + size, Lng: minLng},
		geo.Point{Lat: minLat, Lng: minLng},
	)
}

func testCatalog() *Catalog {
	return NewCatalog("v1", []Zone{
		{ID: "r1", Level: LevelRegion, Geometry: square(45, 4, 1)},
		{ID: "d1", Level: LevelDepartment, ParentID: "r1", Geometry: square(45, 4, 0.5)},
		{ID: "d2", Level: LevelDepartment, ParentID: "r1", Geometry: square(45.5, 4.5, 0.5)},
		{ID: "z1", Level: LevelZone, ParentID: "d1", Geometry: square(45, 4, 0.05)},
		{ID: "z2", Level: LevelZone, ParentID: "d1", Geometry: square(45.05, 4, 0.05)},
		{ID: "z3", Level: LevelZone, ParentID: "d1", Geometry: square(45.1, 4, 0.05)},
		{ID: "zx", Level: LevelZone, ParentID: "missing"},
		{ID: "zy", Level: LevelZone, ParentID: "r1"},
	})
}

func TestCatalogForest(t *testing.T) {
	c := testCatalog()
	if c.Len() != 8 {
		t.Fatalf("expected 8 zones, got %d", c.Len())
	}
	if got := len(c.Children("d1")); got != 3 {
		t.Errorf("expected 3 children of d1, got %d", got)
	}
	if got := len(c.Children("r1")); got != 2 {
		t.Errorf("expected 2 departments under r1 (zone attached to region is rejected), got %d", got)
	}
	if p, ok := c.Parent("z2"); !ok || p.ID != "d1" {
		t.Errorf("expected parent d1, got %v", p)
	}
	if _, ok := c.Parent("r1"); ok {
		t.Error("region must not have a parent")
	}
	if _, ok := c.Parent("zx"); ok {
		t.Error("orphan must not resolve a parent")
	}
	if c.Orphans() != 2 {
		t.Errorf("expected 2 orphans, got %d", c.Orphans())
	}
	anc := c.Ancestors("z1")
	if len(anc) != 2 || anc[0].ID != "d1" || anc[1].ID != "r1" {
		t.Errorf("unexpected ancestors %v", anc)
	}
	if got := len(c.ByLevel(LevelZone)); got != 5 {
		t.Errorf("expected 5 zone-level nodes, got %d", got)
	}
}

func TestCatalogSkipsDuplicatesAndInvalid(t *testing.T) {
	c := NewCatalog("v", []Zone{
		{ID: "a", Level: LevelRegion, Name: "first"},
		{ID: "a", Level: LevelRegion, Name: "second"},
		{ID: "", Level: LevelRegion},
		{ID: "b", Level: "planet"},
	})
	if c.Len() != 1 {
		t.Fatalf("expected 1 zone, got %d", c.Len())
	}
	if z, _ := c.Get("a"); z.Name != "first" {
		t.Errorf("expected first occurrence to win, got %s", z.Name)
	}
}

func TestLevelNavigation(t *testing.T) {
	if p, ok := LevelZone.Parent(); !ok || p != LevelDepartment {
		t.Errorf("expected department, got %s", p)
	}
	if _, ok := LevelRegion.Parent(); ok {
		t.Error("region has no parent level")
	}
	if c, ok := LevelRegion.Child(); !ok || c != LevelDepartment {
		t.Errorf("expected department, got %s", c)
	}
	if l, err := ParseLevel("Departments"); err != nil || l != LevelDepartment {
		t.Errorf("expected department, got %s (%v)", l, err)
	}
	if _, err := ParseLevel("country"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFindZoneForPoint(t *testing.T) {
	c := testCatalog()
	loc := NewLocator(c.ByLevel(LevelZone), DefaultToleranceDeg)
	cases := []struct {
		name string
		pt   geo.Point
		want string
	}{
		{"first zone", geo.Point{Lat: 45.01, Lng: 4.01}, "z1"},
		{"second zone", geo.Point{Lat: 45.07, Lng: 4.02}, "z2"},
		{"third zone", geo.Point{Lat: 45.12, Lng: 4.03}, "z3"},
		{"outside all", geo.Point{Lat: 45.3, Lng: 4.3}, ""},
		{"far away", geo.Point{Lat: 48.85, Lng: 2.35}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			z := loc.FindZoneForPoint(tc.pt)
			got := ""
			if z != nil {
				got = z.ID
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFindZoneOverlapFirstWins(t *testing.T) {
	a := &Zone{ID: "a", Level: LevelZone, Geometry: square(0, 0, 1)}
	b := &Zone{ID: "b", Level: LevelZone, Geometry: square(0.5, 0.5, 1)}
	pt := geo.Point{Lat: 0.75, Lng: 0.75}
	if z := NewLocator([]*Zone{a, b}, 0).FindZoneForPoint(pt); z == nil || z.ID != "a" {
		t.Errorf("expected a, got %v", z)
	}
	if z := NewLocator([]*Zone{b, a}, 0).FindZoneForPoint(pt); z == nil || z.ID != "b" {
		t.Errorf("expected b, got %v", z)
	}
}

func TestLocatorWidensToleranceForLargeZones(t *testing.T) {
	big := &Zone{ID: "big", Level: LevelZone, Geometry: square(40, 0, 2)}
	loc := NewLocator([]*Zone{big}, 0.1)
	tolLat, tolLng := loc.Tolerance()
	if tolLat < 1 || tolLng < 1 {
		t.Fatalf("expected tolerance widened to >= 1, got %f/%f", tolLat, tolLng)
	}
	if z := loc.FindZoneForPoint(geo.Point{Lat: 40.05, Lng: 0.05}); z == nil {
		t.Error("corner point of a large zone must not be filtered out")
	}
}

func TestLocatorCache(t *testing.T) {
	c := testCatalog()
	loc := NewLocator(c.ByLevel(LevelZone), 0, WithCache(16, time.Minute))
	pt := geo.Point{Lat: 45.01, Lng: 4.01}
	for i := 0; i < 3; i++ {
		if z := loc.FindZoneForPoint(pt); z == nil || z.ID != "z1" {
			t.Fatalf("expected z1, got %v", z)
		}
	}
	if loc.cache.Len() != 1 {
		t.Errorf("expected one cached entry, got %d", loc.cache.Len())
	}
	if z := loc.FindZoneForPoint(geo.Point{Lat: 10, Lng: 10}); z != nil {
		t.Errorf("expected miss, got %v", z)
	}
	if loc.cache.Len() != 1 {
		t.Errorf("misses must not be cached, got %d entries", loc.cache.Len())
	}
}

// sameCellPair：在经度 edge 两侧各取一点，且两点落在同一缓存格子
func sameCellPair(t *testing.T, lat, edge float64) (geo.Point, geo.Point) {
	t.Helper()
	for d := 1e-7; d < 1e-5; d += 1e-7 {
		west := geo.Point{Lat: lat, Lng: edge - d}
		east := geo.Point{Lat: lat, Lng: edge + d}
		if encodeGeohash(west.Lat, west.Lng, cachePrecision) == encodeGeohash(east.Lat, east.Lng, cachePrecision) {
			return west, east
		}
	}
	t.Fatalf("no same-cell pair around lng %f", edge)
	return geo.Point{}, geo.Point{}
}

func TestLocatorCacheRechecksContainment(t *testing.T) {
	a := &Zone{ID: "a", Level: LevelZone, Geometry: geo.NewPolygon(
		geo.Point{Lat: 45, Lng: 3.9}, geo.Point{Lat: 45, Lng: 4.0},
		geo.Point{Lat: 45.1, Lng: 4.0}, geo.Point{Lat: 45.1, Lng: 3.9}, geo.Point{Lat: 45, Lng: 3.9})}
	b := &Zone{ID: "b", Level: LevelZone, Geometry: geo.NewPolygon(
		geo.Point{Lat: 45, Lng: 4.0}, geo.Point{Lat: 45, Lng: 4.1},
		geo.Point{Lat: 45.1, Lng: 4.1}, geo.Point{Lat: 45.1, Lng: 4.0}, geo.Point{Lat: 45, Lng: 4.0})}
	plain := NewLocator([]*Zone{a, b}, 0)
	cached := NewLocator([]*Zone{a, b}, 0, WithCache(16, time.Minute))

	inA, inB := sameCellPair(t, 45.05, 4.0)
	inB2, outside := sameCellPair(t, 45.05, 4.1)

	for _, tc := range []struct {
		name string
		pt   geo.Point
		want string
	}{
		{"west of shared edge", inA, "a"},
		{"east of shared edge", inB, "b"},
		{"inside east edge", inB2, "b"},
		{"outside every zone", outside, ""},
		{"back west", inA, "a"},
	} {
		for _, loc := range []*Locator{plain, cached} {
			got := ""
			if z := loc.FindZoneForPoint(tc.pt); z != nil {
				got = z.ID
			}
			if got != tc.want {
				t.Errorf("%s (cache=%v): expected %q, got %q", tc.name, loc.cache != nil, tc.want, got)
			}
		}
	}
}

func TestLRUEvictionAndTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRU(2, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a evicted")
	}
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Errorf("expected c=3, got %q", v)
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("c"); ok {
		t.Error("expected c expired")
	}
}

func TestGeohash(t *testing.T) {
	cases := []struct {
		lat, lng float64
		prec     int
		want     string
	}{
		{57.64911, 10.40744, 11, "u4pruydqqvj"},
		{42.6, -5.6, 5, "ezs42"},
		{-90, -180, 4, "0000"},
		{90, 180, 4, "zzzz"},
	}
	for _, c := range cases {
		if got := encodeGeohash(c.lat, c.lng, c.prec); got != c.want {
			t.Errorf("%v,%v: expected %s, got %s", c.lat, c.lng, c.want, got)
		}
	}
}

func TestLoadGeoJSONDir(t *testing.T) {
	dir := t.TempDir()
	regions := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"id":"84","name":"Auvergne-Rhône-Alpes","code":"ARA"},
		 "geometry":{"type":"Polygon","coordinates":[[[4,45],[5,45],[5,46],[4,46],[4,45]]]}}
	]}`
	zones := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":200046977,"properties":{"name":"Métropole de Lyon","level":"zone","parent_id":"69"},
		 "geometry":{"type":"MultiPolygon","coordinates":[[[[4.7,45.6],[5.0,45.6],[5.0,45.9],[4.7,45.6]]]]}},
		{"type":"Feature","properties":{"name":"no id"},"geometry":null}
	]}`
	if err := os.WriteFile(filepath.Join(dir, "regions.geojson"), []byte(regions), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zones.geojson"), []byte(zones), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := LoadGeoJSONDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(out))
	}
	if out[0].ID != "84" || out[0].Level != LevelRegion || out[0].Code != "ARA" {
		t.Errorf("unexpected region %+v", out[0])
	}
	if out[1].ID != "200046977" || out[1].Level != LevelZone || out[1].ParentID != "69" {
		t.Errorf("unexpected zone %+v", out[1])
	}
	if !out[1].Contains(geo.Point{Lat: 45.65, Lng: 4.9}) {
		t.Error("expected loaded geometry to contain point")
	}
}

func TestContentVersion(t *testing.T) {
	a := []Zone{{ID: "r1", Level: LevelRegion}, {ID: "d1", Level: LevelDepartment, ParentID: "r1"}}
	v1, err := ContentVersion(a)
	if err != nil || len(v1) != 12 {
		t.Fatalf("unexpected version %q %v", v1, err)
	}
	v2, _ := ContentVersion(a)
	if v1 != v2 {
		t.Error("version must be stable")
	}
	a[1].Name = "renamed"
	if v3, _ := ContentVersion(a); v3 == v1 {
		t.Error("version must change with content")
	}
}

func TestValidate(t *testing.T) {
	zones := []Zone{
		{ID: "r1", Level: LevelRegion},
		{ID: "d1", Level: LevelDepartment, ParentID: "r1"},
		{ID: "z1", Level: LevelZone, ParentID: "d1", Geometry: square(45, 4, 0.1)},
		{ID: "z2", Level: LevelZone, ParentID: "d1"},
		{ID: "z1", Level: LevelZone, ParentID: "d1"},
		{ID: "d2", Level: LevelDepartment, ParentID: "missing"},
		{ID: "z3", Level: LevelZone, ParentID: "r1", Geometry: square(46, 4, 0.1)},
		{ID: "bad", Level: Level("country")},
	}
	r := Validate(zones)
	if r.OK() {
		t.Fatal("expected problems")
	}
	if r.ByLevel[LevelRegion] != 1 || r.ByLevel[LevelDepartment] != 2 || r.ByLevel[LevelZone] != 3 {
		t.Errorf("unexpected counts %v", r.ByLevel)
	}
	if len(r.Duplicates) != 1 || r.Duplicates[0] != "z1" {
		t.Errorf("expected duplicate z1, got %v", r.Duplicates)
	}
	if len(r.Invalid) != 1 || r.Invalid[0] != "bad" {
		t.Errorf("expected invalid bad, got %v", r.Invalid)
	}
	if len(r.Orphans) != 2 || r.Orphans[0] != "d2" || r.Orphans[1] != "z3" {
		t.Errorf("expected orphans [d2 z3], got %v", r.Orphans)
	}
	if len(r.MissingGeometry) != 1 || r.MissingGeometry[0] != "z2" {
		t.Errorf("expected missing geometry z2, got %v", r.MissingGeometry)
	}

	clean := Validate(zones[:4])
	if !clean.OK() {
		t.Errorf("expected clean catalog, got %s", clean)
	}
}
