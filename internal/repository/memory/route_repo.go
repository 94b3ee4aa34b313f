package memory

import (
	"context"
	"sort"
	"sync"

	"rydar/internal/domain/entities"
	"rydar/internal/repository"
)

// RouteRepository keeps driver routes in memory, keyed by driver then route
// name. Stored routes are copies, so callers can never mutate repository
// state through a pointer they were handed.
type RouteRepository struct {
	mu     sync.RWMutex
	routes map[string]map[string]entities.DriverRoute // driverID -> name -> route
}

func NewRouteRepository() *RouteRepository {
	return &RouteRepository{
		routes: make(map[string]map[string]entities.DriverRoute),
	}
}

var _ repository.RouteRepository = (*RouteRepository)(nil)

func (r *RouteRepository) Create(ctx context.Context, route *entities.DriverRoute) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.routes[route.DriverID]
	if !ok {
		byName = make(map[string]entities.DriverRoute)
		r.routes[route.DriverID] = byName
	}
	if _, exists := byName[route.Name]; exists {
		return repository.ErrRouteExists
	}
	byName[route.Name] = *route
	return nil
}

func (r *RouteRepository) Get(ctx context.Context, driverID, name string) (*entities.DriverRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[driverID][name]
	if !ok {
		return nil, repository.ErrRouteNotFound
	}
	return &route, nil
}

func (r *RouteRepository) List(ctx context.Context, driverID string) ([]*entities.DriverRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := r.routes[driverID]
	out := make([]*entities.DriverRoute, 0, len(byName))
	for _, route := range byName {
		route := route
		out = append(out, &route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update replaces the route stored under currentName. route.Name may differ
// from currentName, which renames the route.
func (r *RouteRepository) Update(ctx context.Context, driverID, currentName string, route *entities.DriverRoute) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.routes[driverID]
	if _, ok := byName[currentName]; !ok {
		return repository.ErrRouteNotFound
	}
	if route.Name != currentName {
		if _, taken := byName[route.Name]; taken {
			return repository.ErrRouteExists
		}
		delete(byName, currentName)
	}
	byName[route.Name] = *route
	return nil
}

func (r *RouteRepository) Delete(ctx context.Context, driverID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.routes[driverID]
	if _, ok := byName[name]; !ok {
		return repository.ErrRouteNotFound
	}
	delete(byName, name)
	if len(byName) == 0 {
		delete(r.routes, driverID)
	}
	return nil
}
