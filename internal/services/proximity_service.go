package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"rydar/internal/config"
	"rydar/internal/domain/entities"
	"rydar/internal/geo"
)

// ProximityQuery asks for drivers near a destination point.
type ProximityQuery struct {
	Latitude        float64
	Longitude       float64
	RadiusMeters    float64
	Limit           int
	DestinationName string // optional; blank means any route
}

// NearbyDriver is one ranked result of a proximity query.
type NearbyDriver struct {
	DriverID       string
	Latitude       float64
	Longitude      float64
	RouteName      string
	Comment        entities.Comment
	DistanceMeters float64
	UpdatedAt      time.Time
}

// ProximityService answers rider queries against the presence index. It only
// reads; presences are never modified here.
type ProximityService struct {
	index  geo.Index
	cfg    config.PresenceConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewProximityService(index geo.Index, cfg config.PresenceConfig, logger *slog.Logger) *ProximityService {
	return &ProximityService{
		index:  index,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// FindNearby returns the drivers within q.RadiusMeters of the query point,
// nearest first with ties broken by driver id, truncated to q.Limit.
//
// Presences older than the freshness window are skipped even if the reaper
// has not evicted them yet, so a driver that stopped pushing disappears from
// results exactly when its window lapses.
func (s *ProximityService) FindNearby(ctx context.Context, q ProximityQuery) ([]NearbyDriver, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}

	var hits []geo.Hit
	err := withRetry(ctx, s.cfg.RetryBackoff, func() error {
		var err error
		hits, err = s.index.QueryRadius(ctx, q.Latitude, q.Longitude, q.RadiusMeters)
		return err
	})
	if err != nil {
		s.logger.Error("proximity query failed",
			"latitude", q.Latitude, "longitude", q.Longitude, "radius_m", q.RadiusMeters, "error", err)
		return nil, err
	}

	cutoff := s.now().Add(-s.cfg.FreshnessWindow)
	results := make([]NearbyDriver, 0, len(hits))
	for _, h := range hits {
		p := h.Presence
		if p.StaleAt(cutoff) || !p.MatchesRoute(q.DestinationName) {
			continue
		}
		results = append(results, NearbyDriver{
			DriverID:       p.DriverID,
			Latitude:       p.Position.Latitude,
			Longitude:      p.Position.Longitude,
			RouteName:      p.RouteName,
			Comment:        p.Comment,
			DistanceMeters: h.DistanceMeters,
			UpdatedAt:      p.UpdatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].DistanceMeters != results[j].DistanceMeters {
			return results[i].DistanceMeters < results[j].DistanceMeters
		}
		return results[i].DriverID < results[j].DriverID
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *ProximityService) validate(q ProximityQuery) error {
	switch {
	case !entities.ValidLatitude(q.Latitude):
		return invalid("latitude", "%v is outside [-90, 90]", q.Latitude)
	case !entities.ValidLongitude(q.Longitude):
		return invalid("longitude", "%v is outside [-180, 180]", q.Longitude)
	case !(q.RadiusMeters > 0):
		return invalid("radiusMeters", "must be positive")
	case q.RadiusMeters > s.cfg.MaxRadiusMeters:
		return invalid("radiusMeters", "must not exceed %v", s.cfg.MaxRadiusMeters)
	case q.Limit <= 0:
		return invalid("limit", "must be positive")
	case q.Limit > s.cfg.MaxLimit:
		return invalid("limit", "must not exceed %d", s.cfg.MaxLimit)
	case len(strings.TrimSpace(q.DestinationName)) > 200:
		return invalid("destinationName", "too long")
	}
	return nil
}
