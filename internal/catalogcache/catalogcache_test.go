package catalogcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fog-api/internal/geo"
	"fog-api/internal/zone"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sampleZones() []zone.Zone {
	return []zone.Zone{
		{ID: "d1", Level: zone.LevelDepartment, Name: "Dept"},
		{ID: "z1", Level: zone.LevelZone, ParentID: "d1", Geometry: geo.NewPolygon(
			geo.Point{Lat: 0, Lng: 0}, geo.Point{Lat: 0, Lng: 1}, geo.Point{Lat: 1, Lng: 1}, geo.Point{Lat: 0, Lng: 0})},
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(rc, time.Minute)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "v1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Put(ctx, "v1", sampleZones()); err != nil {
		t.Fatal(err)
	}
	zones, ok, err := c.Get(ctx, "v1")
	if err != nil || !ok || len(zones) != 2 {
		t.Fatalf("expected hit with 2 zones, got %d ok=%v err=%v", len(zones), ok, err)
	}
	if zones[1].Geometry == nil || !geo.PointInGeometry(geo.Point{Lat: 0.2, Lng: 0.5}, zones[1].Geometry) {
		t.Error("geometry did not survive the cache")
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "v1"); ok {
		t.Error("expected entry to expire")
	}
}

func TestRedisCacheNilClient(t *testing.T) {
	c := NewRedisCache(nil, 0)
	if err := c.Put(context.Background(), "v", sampleZones()); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(context.Background(), "v"); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestFileCacheReplacesOldVersion(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir)
	ctx := context.Background()
	if err := c.Put(ctx, "v1", sampleZones()); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "v2/../x", sampleZones()[:1]); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "catalog-*.json"))
	if len(files) != 1 {
		t.Fatalf("expected a single catalog file, got %v", files)
	}
	if _, err := os.Stat(filepath.Join(dir, "catalog-v2_.._x.json")); err != nil {
		t.Errorf("expected sanitized file name: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "v1"); ok {
		t.Error("old version must be gone")
	}
	zones, ok, err := c.Get(ctx, "v2/../x")
	if err != nil || !ok || len(zones) != 1 {
		t.Errorf("expected hit with 1 zone, got %d ok=%v err=%v", len(zones), ok, err)
	}
}

func TestChainBackfills(t *testing.T) {
	ctx := context.Background()
	front := NewFileCache(t.TempDir())
	back := NewFileCache(t.TempDir())
	_ = back.Put(ctx, "v1", sampleZones())
	chain := Chain{front, back}
	if _, ok, _ := chain.Get(ctx, "v1"); !ok {
		t.Fatal("expected hit from back tier")
	}
	if _, ok, _ := front.Get(ctx, "v1"); !ok {
		t.Error("expected front tier to be backfilled")
	}
}

func TestLoaderFetchesOncePerVersion(t *testing.T) {
	var calls int32
	gate := make(chan struct{})
	l := NewLoader(NewFileCache(t.TempDir()), func(ctx context.Context, version string) ([]zone.Zone, error) {
		atomic.AddInt32(&calls, 1)
		<-gate
		return sampleZones(), nil
	})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if zones, err := l.Load(ctx, "v1"); err != nil || len(zones) != 2 {
				t.Errorf("unexpected load result %d %v", len(zones), err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	if _, err := l.Load(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected one fetch, got %d", n)
	}
}

func TestLoaderFetchError(t *testing.T) {
	boom := errors.New("boom")
	l := NewLoader(nil, func(ctx context.Context, version string) ([]zone.Zone, error) { return nil, boom })
	if _, err := l.Load(context.Background(), "v1"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

func TestClientTiers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ClientTiers(t.TempDir(), nil, time.Minute).(*FileCache); !ok {
		t.Fatal("expected file cache only without redis")
	}

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	// 另一个客户端已把目录写入 Redis
	if err := NewRedisCache(rc, time.Minute).Put(ctx, "v1", sampleZones()); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	tiers := ClientTiers(dir, rc, time.Minute)
	if _, ok := tiers.(Chain); !ok {
		t.Fatalf("expected chain with redis, got %T", tiers)
	}
	zones, ok, err := tiers.Get(ctx, "v1")
	if err != nil || !ok || len(zones) != 2 {
		t.Fatalf("expected redis hit, got %d ok=%v err=%v", len(zones), ok, err)
	}
	if _, ok, _ := NewFileCache(dir).Get(ctx, "v1"); !ok {
		t.Error("expected redis hit to backfill the local file")
	}

	if err := tiers.Put(ctx, "v2", sampleZones()[:1]); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("fog:catalog:v2") {
		t.Error("expected put to reach redis")
	}
}
