package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"rydar/internal/domain/entities"
	"rydar/internal/repository"
)

// RouteInput is the editable part of a driver route.
type RouteInput struct {
	Name        string
	Destination entities.Location
	Comment     entities.Comment
}

// RouteService manages the named routes a driver can broadcast under. It is
// the authoritative source of each route's destination and comment.
type RouteService struct {
	repo   repository.RouteRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewRouteService(repo repository.RouteRepository, logger *slog.Logger) *RouteService {
	return &RouteService{repo: repo, logger: logger, now: time.Now}
}

func (s *RouteService) validate(in RouteInput) error {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return invalid("routeName", "must not be empty")
	case len(name) > 200:
		return invalid("routeName", "too long")
	case !entities.ValidLatitude(in.Destination.Latitude):
		return invalid("destination.latitude", "%v is outside [-90, 90]", in.Destination.Latitude)
	case !entities.ValidLongitude(in.Destination.Longitude):
		return invalid("destination.longitude", "%v is outside [-180, 180]", in.Destination.Longitude)
	}
	return nil
}

func (s *RouteService) build(driverID string, in RouteInput) *entities.DriverRoute {
	route := entities.NewDriverRoute(driverID, in.Name, in.Destination, in.Comment)
	route.UpdatedAt = s.now()
	return route
}

// AddRoute stores a new route. A driver cannot hold two routes with one name.
func (s *RouteService) AddRoute(ctx context.Context, driverID string, in RouteInput) (*entities.DriverRoute, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	route := s.build(driverID, in)
	if err := s.repo.Create(ctx, route); err != nil {
		return nil, err
	}
	s.logger.Info("route added", "driver_id", driverID, "route", route.Name)
	return route, nil
}

func (s *RouteService) ListRoutes(ctx context.Context, driverID string) ([]*entities.DriverRoute, error) {
	return s.repo.List(ctx, driverID)
}

func (s *RouteService) GetRoute(ctx context.Context, driverID, name string) (*entities.DriverRoute, error) {
	return s.repo.Get(ctx, driverID, strings.TrimSpace(name))
}

// UpdateRoute replaces the route named currentName with in, renaming it when
// in.Name differs.
func (s *RouteService) UpdateRoute(ctx context.Context, driverID, currentName string, in RouteInput) (*entities.DriverRoute, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	route := s.build(driverID, in)
	if err := s.repo.Update(ctx, driverID, strings.TrimSpace(currentName), route); err != nil {
		return nil, err
	}
	s.logger.Info("route updated", "driver_id", driverID, "route", route.Name)
	return route, nil
}

func (s *RouteService) RemoveRoute(ctx context.Context, driverID, name string) error {
	if err := s.repo.Delete(ctx, driverID, strings.TrimSpace(name)); err != nil {
		return err
	}
	s.logger.Info("route removed", "driver_id", driverID, "route", name)
	return nil
}
