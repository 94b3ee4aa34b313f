// Package cache puts an LRU read-through cache in front of a RouteRepository.
//
// Every location ingest without a comment looks up the driver's current route
// to borrow its comment, so Get sits on the hot path. Writes go straight to
// the wrapped repository and then drop the affected keys.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"rydar/internal/domain/entities"
	"rydar/internal/repository"
)

// notFound is cached for routes the store does not have, so a driver that
// broadcasts under an unsaved route name does not hit the store every push.
type notFound struct{}

// RouteRepository caches Get results. gen counts completed writes: a fill
// that started before a write finished is dropped instead of stored, so a
// load racing an Update or Delete cannot put the old route back.
type RouteRepository struct {
	next  repository.RouteRepository
	cache gcache.Cache

	mu  sync.Mutex
	gen uint64
}

// NewRouteRepository wraps next with an LRU of size entries that expire after ttl.
func NewRouteRepository(next repository.RouteRepository, size int, ttl time.Duration) *RouteRepository {
	return &RouteRepository{
		next:  next,
		cache: gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

var _ repository.RouteRepository = (*RouteRepository)(nil)

func cacheKey(driverID, name string) string {
	return driverID + "\x00" + name
}

func (r *RouteRepository) Get(ctx context.Context, driverID, name string) (*entities.DriverRoute, error) {
	key := cacheKey(driverID, name)
	if cached, err := r.cache.Get(key); err == nil {
		switch v := cached.(type) {
		case entities.DriverRoute:
			return &v, nil
		case notFound:
			return nil, repository.ErrRouteNotFound
		}
	}

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	route, err := r.next.Get(ctx, driverID, name)
	switch {
	case errors.Is(err, repository.ErrRouteNotFound):
		r.fill(gen, key, notFound{})
		return nil, err
	case err != nil:
		return nil, err
	}
	r.fill(gen, key, *route)
	return route, nil
}

func (r *RouteRepository) fill(gen uint64, key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		_ = r.cache.Set(key, value)
	}
}

// invalidate runs after a write reached the store.
func (r *RouteRepository) invalidate(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	for _, k := range keys {
		r.cache.Remove(k)
	}
}

func (r *RouteRepository) List(ctx context.Context, driverID string) ([]*entities.DriverRoute, error) {
	return r.next.List(ctx, driverID)
}

func (r *RouteRepository) Create(ctx context.Context, route *entities.DriverRoute) error {
	defer r.invalidate(cacheKey(route.DriverID, route.Name))
	return r.next.Create(ctx, route)
}

func (r *RouteRepository) Update(ctx context.Context, driverID, currentName string, route *entities.DriverRoute) error {
	defer r.invalidate(cacheKey(driverID, currentName), cacheKey(driverID, route.Name))
	return r.next.Update(ctx, driverID, currentName, route)
}

func (r *RouteRepository) Delete(ctx context.Context, driverID, name string) error {
	defer r.invalidate(cacheKey(driverID, name))
	return r.next.Delete(ctx, driverID, name)
}
