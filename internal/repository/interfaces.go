package repository

import (
	"context"
	"errors"
	"time"

	"rydar/internal/domain/entities"
)

var (
	ErrRouteNotFound = errors.New("route not found")
	ErrRouteExists   = errors.New("route already exists")
)

// RouteRepository stores the named routes each driver can broadcast under.
// Route names are unique per driver and compared exactly. List returns routes
// sorted by name.
type RouteRepository interface {
	Create(ctx context.Context, route *entities.DriverRoute) error
	Get(ctx context.Context, driverID, name string) (*entities.DriverRoute, error)
	List(ctx context.Context, driverID string) ([]*entities.DriverRoute, error)
	Update(ctx context.Context, driverID, currentName string, route *entities.DriverRoute) error
	Delete(ctx context.Context, driverID, name string) error
}

// LockManager hands out named locks with a TTL, so a holder that dies never
// blocks others forever.
type LockManager interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	IsLocked(ctx context.Context, key string) (bool, error)
}
