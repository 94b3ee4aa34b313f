package geo

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"rydar/internal/domain/entities"
)

const (
	shardCount = 64

	// DefaultMaxCoverCells bounds how many geohash cells a query visits before
	// it falls back to scanning every driver.
	DefaultMaxCoverCells = 256
)

// slot is what a key shard keeps per driver: the current presence and the
// cell it is filed under.
type slot struct {
	presence *entities.DriverPresence
	cell     string
}

type keyShard struct {
	mu    sync.RWMutex
	slots map[string]slot
}

type cellShard struct {
	mu    sync.RWMutex
	cells map[string]map[string]*entities.DriverPresence // geohash -> driverID -> presence
}

// SpatialIndex is the default in-memory Index. Drivers are bucketed into
// geohash cells so a radius query only visits the cells its circle overlaps.
//
// There is no global lock. Driver records are spread over key shards and
// cells over cell shards, each with its own RWMutex. A write holds the
// driver's key shard for its whole duration (which linearizes writes to one
// driver) and briefly takes the one or two cell shards it touches. Lock order
// is always key shard, then cell shard.
//
// Go Learning Note: Lock Striping
// A single sync.RWMutex around the whole map would serialize every ingest in
// the process. Striping the map into shards selected by a hash of the key
// lets writes for different drivers proceed in parallel while keeping the
// same simple mutex discipline inside each shard.
type SpatialIndex struct {
	precision     int
	maxCoverCells int
	keys          [shardCount]keyShard
	cells         [shardCount]cellShard
}

// NewSpatialIndex creates an empty index bucketing at the given geohash
// precision. maxCoverCells <= 0 selects DefaultMaxCoverCells.
func NewSpatialIndex(precision, maxCoverCells int) *SpatialIndex {
	if maxCoverCells <= 0 {
		maxCoverCells = DefaultMaxCoverCells
	}
	s := &SpatialIndex{
		precision:     int(normalizePrecision(precision)),
		maxCoverCells: maxCoverCells,
	}
	for i := range s.keys {
		s.keys[i].slots = make(map[string]slot)
		s.cells[i].cells = make(map[string]map[string]*entities.DriverPresence)
	}
	return s
}

var _ Index = (*SpatialIndex)(nil)

func shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (s *SpatialIndex) keyShard(driverID string) *keyShard { return &s.keys[shardFor(driverID)] }
func (s *SpatialIndex) cellShard(cell string) *cellShard   { return &s.cells[shardFor(cell)] }

func (s *SpatialIndex) putInCell(cell string, p *entities.DriverPresence) {
	cs := s.cellShard(cell)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	bucket, ok := cs.cells[cell]
	if !ok {
		bucket = make(map[string]*entities.DriverPresence)
		cs.cells[cell] = bucket
	}
	bucket[p.DriverID] = p
}

func (s *SpatialIndex) removeFromCell(cell, driverID string) {
	cs := s.cellShard(cell)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if bucket, ok := cs.cells[cell]; ok {
		delete(bucket, driverID)
		if len(bucket) == 0 {
			delete(cs.cells, cell) // Drop empty cells so the map does not grow forever.
		}
	}
}

// Upsert stores p as the driver's presence. A presence older than the stored
// one is ignored and reported with applied=false.
func (s *SpatialIndex) Upsert(ctx context.Context, p *entities.DriverPresence) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cell := Encode(p.Position.Latitude, p.Position.Longitude, s.precision)

	ks := s.keyShard(p.DriverID)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	old, exists := ks.slots[p.DriverID]
	if exists && p.UpdatedAt.Before(old.presence.UpdatedAt) {
		return false, nil
	}

	// Leave the old cell before joining the new one: a concurrent query may
	// briefly miss the driver but never sees two positions for it.
	if exists && old.cell != cell {
		s.removeFromCell(old.cell, p.DriverID)
	}
	s.putInCell(cell, p)
	ks.slots[p.DriverID] = slot{presence: p, cell: cell}
	return true, nil
}

// Get returns the driver's presence, or nil when the driver is not indexed.
func (s *SpatialIndex) Get(ctx context.Context, driverID string) (*entities.DriverPresence, error) {
	ks := s.keyShard(driverID)
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if sl, ok := ks.slots[driverID]; ok {
		return sl.presence, nil
	}
	return nil, nil
}

// Remove deletes the driver's presence.
func (s *SpatialIndex) Remove(ctx context.Context, driverID string) (bool, error) {
	ks := s.keyShard(driverID)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	return s.removeLocked(ks, driverID), nil
}

// RemoveIfStale deletes the driver's presence only if it was last updated
// before cutoff. The check runs under the same lock as Upsert, so an ingest
// that lands first keeps the driver.
func (s *SpatialIndex) RemoveIfStale(ctx context.Context, driverID string, cutoff time.Time) (bool, error) {
	ks := s.keyShard(driverID)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	sl, ok := ks.slots[driverID]
	if !ok || !sl.presence.StaleAt(cutoff) {
		return false, nil
	}
	return s.removeLocked(ks, driverID), nil
}

func (s *SpatialIndex) removeLocked(ks *keyShard, driverID string) bool {
	sl, ok := ks.slots[driverID]
	if !ok {
		return false
	}
	s.removeFromCell(sl.cell, driverID)
	delete(ks.slots, driverID)
	return true
}

// QueryRadius returns every presence within radiusMeters of (lat, lon), in no
// particular order.
//
// Strategy: coarse filter, then fine filter.
//  1. Coarse: cover the radius bounding box with geohash cells and read only
//     those buckets. Very large radii fall back to a scan of all drivers.
//  2. Fine: keep candidates inside the box whose haversine distance is within
//     the radius.
func (s *SpatialIndex) QueryRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]Hit, error) {
	boxes := RadiusBounds(lat, lon, radiusMeters)

	cells, ok := CoverCells(boxes, s.precision, s.maxCoverCells)
	if !ok {
		return s.scanAll(ctx, boxes, lat, lon, radiusMeters)
	}

	var hits []Hit
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs := s.cellShard(cell)
		cs.mu.RLock()
		for _, p := range cs.cells[cell] {
			if !inAnyBox(boxes, p.Position.Latitude, p.Position.Longitude) {
				continue
			}
			if d, in := withinRadius(lat, lon, radiusMeters, p.Position.Latitude, p.Position.Longitude); in {
				hits = append(hits, Hit{Presence: p, DistanceMeters: d})
			}
		}
		cs.mu.RUnlock()
	}
	return dedupeHits(hits), nil
}

func (s *SpatialIndex) scanAll(ctx context.Context, boxes []Box, lat, lon, radiusMeters float64) ([]Hit, error) {
	var hits []Hit
	for i := range s.keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ks := &s.keys[i]
		ks.mu.RLock()
		for _, sl := range ks.slots {
			p := sl.presence
			if !inAnyBox(boxes, p.Position.Latitude, p.Position.Longitude) {
				continue
			}
			if d, in := withinRadius(lat, lon, radiusMeters, p.Position.Latitude, p.Position.Longitude); in {
				hits = append(hits, Hit{Presence: p, DistanceMeters: d})
			}
		}
		ks.mu.RUnlock()
	}
	return hits, nil
}

// StaleIDs lists drivers whose presence was last updated before cutoff.
func (s *SpatialIndex) StaleIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	for i := range s.keys {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		ks := &s.keys[i]
		ks.mu.RLock()
		for id, sl := range ks.slots {
			if sl.presence.StaleAt(cutoff) {
				ids = append(ids, id)
			}
		}
		ks.mu.RUnlock()
	}
	return ids, nil
}

// Len returns the number of indexed drivers.
func (s *SpatialIndex) Len(ctx context.Context) (int, error) {
	n := 0
	for i := range s.keys {
		ks := &s.keys[i]
		ks.mu.RLock()
		n += len(ks.slots)
		ks.mu.RUnlock()
	}
	return n, nil
}

// CellCount returns how many non-empty geohash cells the index holds.
func (s *SpatialIndex) CellCount() int {
	n := 0
	for i := range s.cells {
		cs := &s.cells[i]
		cs.mu.RLock()
		n += len(cs.cells)
		cs.mu.RUnlock()
	}
	return n
}
