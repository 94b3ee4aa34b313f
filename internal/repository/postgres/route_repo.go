package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rydar/internal/domain/entities"
	"rydar/internal/repository"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

type RouteRepository struct {
	db *pgxpool.Pool
}

func NewRouteRepository(db *pgxpool.Pool) *RouteRepository {
	return &RouteRepository{db: db}
}

var _ repository.RouteRepository = (*RouteRepository)(nil)

func (r *RouteRepository) Create(ctx context.Context, route *entities.DriverRoute) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO driver_routes (driver_id, name, dest_lat, dest_lng, comment, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		route.DriverID, route.Name,
		route.Destination.Latitude, route.Destination.Longitude,
		commentArg(route.Comment), route.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrRouteExists
	}
	return err
}

func (r *RouteRepository) Get(ctx context.Context, driverID, name string) (*entities.DriverRoute, error) {
	row := r.db.QueryRow(ctx, `
        SELECT driver_id, name, dest_lat, dest_lng, comment, updated_at
        FROM driver_routes
        WHERE driver_id = $1 AND name = $2`, driverID, name,
	)
	route, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrRouteNotFound
	}
	return route, err
}

func (r *RouteRepository) List(ctx context.Context, driverID string) ([]*entities.DriverRoute, error) {
	rows, err := r.db.Query(ctx, `
        SELECT driver_id, name, dest_lat, dest_lng, comment, updated_at
        FROM driver_routes
        WHERE driver_id = $1
        ORDER BY name`, driverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*entities.DriverRoute{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

func (r *RouteRepository) Update(ctx context.Context, driverID, currentName string, route *entities.DriverRoute) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE driver_routes
        SET name = $3, dest_lat = $4, dest_lng = $5, comment = $6, updated_at = $7
        WHERE driver_id = $1 AND name = $2`,
		driverID, currentName,
		route.Name, route.Destination.Latitude, route.Destination.Longitude,
		commentArg(route.Comment), route.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrRouteExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrRouteNotFound
	}
	return nil
}

func (r *RouteRepository) Delete(ctx context.Context, driverID, name string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM driver_routes WHERE driver_id = $1 AND name = $2`, driverID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrRouteNotFound
	}
	return nil
}

func scanRoute(row pgx.Row) (*entities.DriverRoute, error) {
	var route entities.DriverRoute
	var comment *string
	if err := row.Scan(
		&route.DriverID, &route.Name,
		&route.Destination.Latitude, &route.Destination.Longitude,
		&comment, &route.UpdatedAt,
	); err != nil {
		return nil, err
	}
	route.Comment = entities.CommentFromPtr(comment)
	return &route, nil
}

// commentArg maps an absent comment to SQL NULL.
func commentArg(c entities.Comment) *string {
	if !c.Valid {
		return nil
	}
	return &c.Text
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
