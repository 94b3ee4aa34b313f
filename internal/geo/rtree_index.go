package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"rydar/internal/domain/entities"
)

// pointTolerance is the edge length of the rectangle stored for each driver.
// rtreego only indexes rectangles, so a point becomes a tiny square.
const pointTolerance = 1e-9

// rtreeItem adapts a presence to rtreego.Spatial. Items are stored by pointer
// so Delete can find them with rtreego's default identity comparator.
type rtreeItem struct {
	presence *entities.DriverPresence
}

func (it *rtreeItem) Bounds() rtreego.Rect {
	return rtreego.Point{it.presence.Position.Longitude, it.presence.Position.Latitude}.ToRect(pointTolerance)
}

// RTreeIndex is an Index backed by an R-tree. It answers queries over sparse,
// uneven driver distributions without a precision to tune, at the price of a
// single RWMutex: rtreego trees are not safe for concurrent mutation.
type RTreeIndex struct {
	mu    sync.RWMutex
	tree  *rtreego.Rtree
	items map[string]*rtreeItem
}

// NewRTreeIndex creates an empty R-tree index over (longitude, latitude).
func NewRTreeIndex() *RTreeIndex {
	return &RTreeIndex{
		tree:  rtreego.NewTree(2, 25, 50),
		items: make(map[string]*rtreeItem),
	}
}

var _ Index = (*RTreeIndex)(nil)

func (r *RTreeIndex) Upsert(ctx context.Context, p *entities.DriverPresence) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.items[p.DriverID]; ok {
		if p.UpdatedAt.Before(old.presence.UpdatedAt) {
			return false, nil
		}
		r.tree.Delete(old)
	}
	item := &rtreeItem{presence: p}
	r.tree.Insert(item)
	r.items[p.DriverID] = item
	return true, nil
}

func (r *RTreeIndex) Get(ctx context.Context, driverID string) (*entities.DriverPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if it, ok := r.items[driverID]; ok {
		return it.presence, nil
	}
	return nil, nil
}

func (r *RTreeIndex) Remove(ctx context.Context, driverID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(driverID), nil
}

func (r *RTreeIndex) RemoveIfStale(ctx context.Context, driverID string, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[driverID]
	if !ok || !it.presence.StaleAt(cutoff) {
		return false, nil
	}
	return r.removeLocked(driverID), nil
}

func (r *RTreeIndex) removeLocked(driverID string) bool {
	it, ok := r.items[driverID]
	if !ok {
		return false
	}
	r.tree.Delete(it)
	delete(r.items, driverID)
	return true
}

func (r *RTreeIndex) QueryRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]Hit, error) {
	boxes := RadiusBounds(lat, lon, radiusMeters)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []Hit
	for _, b := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect, err := rtreego.NewRect(
			rtreego.Point{b.MinLon, b.MinLat},
			[]float64{math.Max(b.MaxLon-b.MinLon, pointTolerance), math.Max(b.MaxLat-b.MinLat, pointTolerance)},
		)
		if err != nil {
			return nil, err
		}
		for _, obj := range r.tree.SearchIntersect(rect) {
			p := obj.(*rtreeItem).presence
			if d, in := withinRadius(lat, lon, radiusMeters, p.Position.Latitude, p.Position.Longitude); in {
				hits = append(hits, Hit{Presence: p, DistanceMeters: d})
			}
		}
	}
	// Split boxes share the antimeridian edge, so a driver on it can match twice.
	return dedupeHits(hits), nil
}

func (r *RTreeIndex) StaleIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, it := range r.items {
		if it.presence.StaleAt(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *RTreeIndex) Len(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}
