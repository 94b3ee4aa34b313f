package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rydar/internal/config"
	"rydar/internal/domain/entities"
	"rydar/internal/geo"
	"rydar/internal/repository"
)

// LocationUpdate is one position push from a driver's client.
type LocationUpdate struct {
	Latitude  float64
	Longitude float64
	RouteName string
	Comment   entities.Comment
}

// LocationService owns the ingest side of presence: drivers pushing their
// position, stopping their broadcast, and reading back what riders see.
type LocationService struct {
	index  geo.Index
	routes repository.RouteRepository // optional
	cfg    config.PresenceConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewLocationService creates a LocationService. routes may be nil, in which
// case updates without a comment simply carry none.
func NewLocationService(index geo.Index, routes repository.RouteRepository, cfg config.PresenceConfig, logger *slog.Logger) *LocationService {
	return &LocationService{
		index:  index,
		routes: routes,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// UpdateLocation validates u and makes it the driver's current presence,
// stamped with the server's receipt time. Client clocks are never trusted.
//
// When the update carries no comment, the comment stored on the driver's
// route of the same name is used. A missing route is not an error.
func (s *LocationService) UpdateLocation(ctx context.Context, driverID string, u LocationUpdate) (*entities.DriverPresence, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, invalid("userId", "must not be empty")
	}
	if !entities.ValidLatitude(u.Latitude) {
		return nil, invalid("latitude", "%v is outside [-90, 90]", u.Latitude)
	}
	if !entities.ValidLongitude(u.Longitude) {
		return nil, invalid("longitude", "%v is outside [-180, 180]", u.Longitude)
	}
	if strings.TrimSpace(u.RouteName) == "" {
		return nil, invalid("currRouteName", "must not be empty")
	}

	comment := u.Comment
	if !comment.Valid {
		comment = s.routeComment(ctx, driverID, u.RouteName)
	}

	presence := entities.NewDriverPresence(driverID, u.Latitude, u.Longitude, u.RouteName, comment, s.now())

	var applied bool
	err := withRetry(ctx, s.cfg.RetryBackoff, func() error {
		var err error
		applied, err = s.index.Upsert(ctx, presence)
		return err
	})
	if errors.Is(err, geo.ErrUnsupportedPosition) {
		return nil, invalid("latitude", "%v is beyond what the presence store can hold", u.Latitude)
	}
	if err != nil {
		s.logger.Error("presence upsert failed", "driver_id", driverID, "error", err)
		return nil, err
	}

	if !applied {
		// A concurrent update with a later receipt time won.
		s.logger.Debug("dropped out-of-order update", "driver_id", driverID)
	}
	return presence, nil
}

func (s *LocationService) routeComment(ctx context.Context, driverID, routeName string) entities.Comment {
	if s.routes == nil {
		return entities.NoComment
	}
	route, err := s.routes.Get(ctx, driverID, strings.TrimSpace(routeName))
	switch {
	case errors.Is(err, repository.ErrRouteNotFound):
		return entities.NoComment
	case err != nil:
		s.logger.Warn("route lookup failed, ingesting without comment", "driver_id", driverID, "route", routeName, "error", err)
		return entities.NoComment
	}
	return route.Comment
}

// StopBroadcast removes the driver's presence. Stopping a driver that is not
// broadcasting succeeds.
func (s *LocationService) StopBroadcast(ctx context.Context, driverID string) error {
	var removed bool
	err := withRetry(ctx, s.cfg.RetryBackoff, func() error {
		var err error
		removed, err = s.index.Remove(ctx, driverID)
		return err
	})
	if err != nil {
		s.logger.Error("presence removal failed", "driver_id", driverID, "error", err)
		return err
	}
	if removed {
		s.logger.Info("driver stopped broadcasting", "driver_id", driverID)
	}
	return nil
}

// GetPresence returns the driver's current presence, or ErrPresenceNotFound.
func (s *LocationService) GetPresence(ctx context.Context, driverID string) (*entities.DriverPresence, error) {
	var presence *entities.DriverPresence
	err := withRetry(ctx, s.cfg.RetryBackoff, func() error {
		var err error
		presence, err = s.index.Get(ctx, driverID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if presence == nil {
		return nil, ErrPresenceNotFound
	}
	return presence, nil
}
