package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"rydar/internal/config"
	"rydar/internal/domain/entities"
	"rydar/internal/geo"
	"rydar/internal/repository/memory"
)

// fakeClock is a settable time source shared by the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	cfg       config.PresenceConfig
	clock     *fakeClock
	index     geo.Index
	routes    *memory.RouteRepository
	location  *LocationService
	proximity *ProximityService
	reaper    *Reaper
	routeSvc  *RouteService
}

func setupServices(index geo.Index) *testEnv {
	cfg := config.NewDefaultConfig().Presence
	cfg.RetryBackoff = time.Millisecond
	clock := newFakeClock()
	logger := discardLogger()
	routes := memory.NewRouteRepository()

	env := &testEnv{
		cfg:       cfg,
		clock:     clock,
		index:     index,
		routes:    routes,
		location:  NewLocationService(index, routes, cfg, logger),
		proximity: NewProximityService(index, cfg, logger),
		reaper:    NewReaper(index, nil, cfg, logger),
		routeSvc:  NewRouteService(routes, logger),
	}
	env.location.now = clock.Now
	env.proximity.now = clock.Now
	env.reaper.now = clock.Now
	env.routeSvc.now = clock.Now
	return env
}

func setupGrid() *testEnv {
	return setupServices(geo.NewSpatialIndex(geo.DefaultPrecision, geo.DefaultMaxCoverCells))
}

func (e *testEnv) ingest(driverID string, lat, lon float64, route, comment string) (*entities.DriverPresence, error) {
	return e.location.UpdateLocation(context.Background(), driverID, LocationUpdate{
		Latitude:  lat,
		Longitude: lon,
		RouteName: route,
		Comment:   entities.NewComment(comment),
	})
}

func (e *testEnv) query(lat, lon, radius float64, limit int, dest string) ([]NearbyDriver, error) {
	return e.proximity.FindNearby(context.Background(), ProximityQuery{
		Latitude:        lat,
		Longitude:       lon,
		RadiusMeters:    radius,
		Limit:           limit,
		DestinationName: dest,
	})
}

// flakyIndex wraps an Index and fails the next failures calls to Upsert,
// Remove and QueryRadius with a transient error.
type flakyIndex struct {
	geo.Index
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyIndex) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("%s: %w: connection reset", op, geo.ErrTransient)
	}
	return nil
}

func (f *flakyIndex) Upsert(ctx context.Context, p *entities.DriverPresence) (bool, error) {
	if err := f.fail("upsert"); err != nil {
		return false, err
	}
	return f.Index.Upsert(ctx, p)
}

func (f *flakyIndex) Remove(ctx context.Context, driverID string) (bool, error) {
	if err := f.fail("remove"); err != nil {
		return false, err
	}
	return f.Index.Remove(ctx, driverID)
}

func (f *flakyIndex) QueryRadius(ctx context.Context, lat, lon, r float64) ([]geo.Hit, error) {
	if err := f.fail("query"); err != nil {
		return nil, err
	}
	return f.Index.QueryRadius(ctx, lat, lon, r)
}

// brokenEvictionIndex fails RemoveIfStale for one driver.
type brokenEvictionIndex struct {
	geo.Index
	broken string
}

func (b *brokenEvictionIndex) RemoveIfStale(ctx context.Context, driverID string, cutoff time.Time) (bool, error) {
	if driverID == b.broken {
		return false, fmt.Errorf("remove %s: %w", driverID, geo.ErrTransient)
	}
	return b.Index.RemoveIfStale(ctx, driverID, cutoff)
}
