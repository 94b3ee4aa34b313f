package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rydar/internal/domain/entities"
)

// Redis GEO refuses latitudes beyond the Web Mercator limit.
const redisMaxLatitude = 85.05112878

// upsertScript applies a presence unless the stored one is newer.
// KEYS: geo set, data hash, updated-at sorted set.
// ARGV: driver id, longitude, latitude, presence json, updated-at millis.
var upsertScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[3], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[5]) then
  return 0
end
redis.call('GEOADD', KEYS[1], ARGV[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
return 1
`)

// removeIfStaleScript deletes a presence only if it is older than the cutoff.
// ARGV: driver id, cutoff millis.
var removeIfStaleScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[3], ARGV[1])
if not cur or tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

// RedisIndex keeps presences in Redis so several service instances share one
// view of the fleet. Positions live in a GEO set, full presences as JSON in a
// hash, and update times in a sorted set that drives staleness scans.
//
// Per-driver linearization comes from running every conditional write as a Lua
// script: Redis executes a script atomically, so the freshness comparison and
// the write cannot interleave with another writer.
type RedisIndex struct {
	client     *redis.Client
	geoKey     string
	dataKey    string
	updatedKey string
}

// NewRedisIndex creates an index under the given key prefix ("presence" when
// empty).
func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisIndex{
		client:     client,
		geoKey:     prefix + ":geo",
		dataKey:    prefix + ":data",
		updatedKey: prefix + ":updated",
	}
}

var _ Index = (*RedisIndex)(nil)

func (r *RedisIndex) keys() []string {
	return []string{r.geoKey, r.dataKey, r.updatedKey}
}

func (r *RedisIndex) Upsert(ctx context.Context, p *entities.DriverPresence) (bool, error) {
	if p.Position.Latitude > redisMaxLatitude || p.Position.Latitude < -redisMaxLatitude {
		return false, ErrUnsupportedPosition
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return false, err
	}

	res, err := upsertScript.Run(ctx, r.client, r.keys(),
		p.DriverID,
		p.Position.Longitude,
		p.Position.Latitude,
		payload,
		p.UpdatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, transient("redis upsert", err)
	}
	return res == 1, nil
}

func (r *RedisIndex) Get(ctx context.Context, driverID string) (*entities.DriverPresence, error) {
	raw, err := r.client.HGet(ctx, r.dataKey, driverID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, transient("redis get", err)
	}
	return decodePresence(raw)
}

func (r *RedisIndex) Remove(ctx context.Context, driverID string) (bool, error) {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.geoKey, driverID)
		deleted = pipe.HDel(ctx, r.dataKey, driverID)
		pipe.ZRem(ctx, r.updatedKey, driverID)
		return nil
	})
	if err != nil {
		return false, transient("redis remove", err)
	}
	return deleted.Val() > 0, nil
}

func (r *RedisIndex) RemoveIfStale(ctx context.Context, driverID string, cutoff time.Time) (bool, error) {
	res, err := removeIfStaleScript.Run(ctx, r.client, r.keys(), driverID, cutoff.UnixMilli()).Int()
	if err != nil {
		return false, transient("redis remove stale", err)
	}
	return res == 1, nil
}

// QueryRadius asks Redis for candidates in a slightly larger circle, then
// applies the shared haversine predicate so every backend agrees on the edge.
// Redis uses a different earth radius than EarthRadiusMeters.
func (r *RedisIndex) QueryRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]Hit, error) {
	names, err := r.client.GeoSearch(ctx, r.geoKey, &redis.GeoSearchQuery{
		Longitude:  lon,
		Latitude:   lat,
		Radius:     radiusMeters*1.001 + 1,
		RadiusUnit: "m",
	}).Result()
	if err != nil {
		return nil, transient("redis geosearch", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	raws, err := r.client.HMGet(ctx, r.dataKey, names...).Result()
	if err != nil {
		return nil, transient("redis hmget", err)
	}

	hits := make([]Hit, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue // Removed between GEOSEARCH and HMGET.
		}
		p, err := decodePresence([]byte(s))
		if err != nil {
			return nil, err
		}
		if d, in := withinRadius(lat, lon, radiusMeters, p.Position.Latitude, p.Position.Longitude); in {
			hits = append(hits, Hit{Presence: p, DistanceMeters: d})
		}
	}
	return hits, nil
}

func (r *RedisIndex) StaleIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.updatedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, transient("redis stale scan", err)
	}
	return ids, nil
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.dataKey).Result()
	if err != nil {
		return 0, transient("redis len", err)
	}
	return int(n), nil
}

// Ping checks connectivity; used by the health endpoint.
func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodePresence(raw []byte) (*entities.DriverPresence, error) {
	var p entities.DriverPresence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	return &p, nil
}
