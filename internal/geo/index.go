package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rydar/internal/domain/entities"
)

var (
	// ErrTransient marks a failure of the backing store that is worth one
	// retry: a lost Redis connection, a timeout talking to it.
	ErrTransient = errors.New("transient index failure")

	// ErrUnsupportedPosition is returned by backends that cannot store some
	// valid WGS84 positions (Redis GEO stops at +/-85.05112878 latitude).
	ErrUnsupportedPosition = errors.New("position not supported by index backend")
)

// Hit is one presence returned by a radius query, with its distance from the
// query point.
type Hit struct {
	Presence       *entities.DriverPresence
	DistanceMeters float64
}

// Index stores the live presence of every broadcasting driver.
//
// Implementations must linearize writes for the same driver, reject an
// Upsert whose UpdatedAt is older than the stored one (applied=false), and
// re-check freshness under the same per-driver discipline in RemoveIfStale so
// that an ingest racing an eviction always survives.
//
// Go Learning Note: Accept Interfaces, Return Structs
// Services depend on this interface, constructors return concrete types
// (*SpatialIndex, *RTreeIndex, *RedisIndex). Swapping the backend is a one
// line change in main and needs no change to any caller.
type Index interface {
	Upsert(ctx context.Context, p *entities.DriverPresence) (applied bool, err error)
	Get(ctx context.Context, driverID string) (*entities.DriverPresence, error)
	Remove(ctx context.Context, driverID string) (removed bool, err error)
	RemoveIfStale(ctx context.Context, driverID string, cutoff time.Time) (removed bool, err error)
	QueryRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]Hit, error)
	StaleIDs(ctx context.Context, cutoff time.Time) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Backend names accepted by configuration.
const (
	BackendGrid  = "grid"
	BackendRTree = "rtree"
	BackendRedis = "redis"
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// dedupeHits keeps one hit per driver, preferring the most recent presence. A
// query can meet the same driver twice when it reads two cells while that
// driver moves between them.
func dedupeHits(hits []Hit) []Hit {
	if len(hits) < 2 {
		return hits
	}
	pos := make(map[string]int, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if i, ok := pos[h.Presence.DriverID]; ok {
			if h.Presence.UpdatedAt.After(out[i].Presence.UpdatedAt) {
				out[i] = h
			}
			continue
		}
		pos[h.Presence.DriverID] = len(out)
		out = append(out, h)
	}
	return out
}
