// Package roster provides vendor directory implementations for the
// match engine: a Redis-backed one for production and an in-memory one
// for development and tests.
package roster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/infra/logger"
)

const (
	geoKey        = "vendors:geo"
	recordKeyFmt  = "vendor:record:%s"
	searchPadding = 50.0 // miles; widest coverage radius we index
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RedisRoster keeps vendor positions in a Redis GEO set and the full
// vendor records alongside as JSON.
type RedisRoster struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisRoster connects to Redis and pings it once.
func NewRedisRoster(ctx context.Context, cfg Config) (*RedisRoster, error) {
	c := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRoster{client: c, log: logger.New("redis_roster")}, nil
}

// NewRedisRosterFromClient wraps an existing client, used by tests.
func NewRedisRosterFromClient(c *redis.Client) *RedisRoster {
	return &RedisRoster{client: c, log: logger.New("redis_roster")}
}

// Upsert stores the vendor record and indexes its coverage center.
func (r *RedisRoster) Upsert(ctx context.Context, v model.Vendor) error {
	record, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      v.ID,
		Longitude: v.CoverageCenter.Lon,
		Latitude:  v.CoverageCenter.Lat,
	}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", v.ID, err)
	}
	if err := r.client.Set(ctx, recordKey(v.ID), record, 0).Err(); err != nil {
		return fmt.Errorf("set record %s: %w", v.ID, err)
	}
	return nil
}

// Remove drops the vendor from the index and deletes its record.
func (r *RedisRoster) Remove(ctx context.Context, vendorID string) error {
	if err := r.client.ZRem(ctx, geoKey, vendorID).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", vendorID, err)
	}
	return r.client.Del(ctx, recordKey(vendorID)).Err()
}

// Query returns vendors whose coverage circle intersects the search
// circle and that advertise a capability for the incident type. The GEO
// search is padded by the widest indexed coverage radius; the exact
// intersection test runs on the fetched records.
func (r *RedisRoster) Query(ctx context.Context, center model.Location, radiusMiles float64, required model.IncidentType) ([]model.Vendor, error) {
	locs, err := r.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusMiles + searchPadding,
			RadiusUnit: "mi",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(locs))
	for i, loc := range locs {
		keys[i] = recordKey(loc.Name)
	}
	records, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget records: %w", err)
	}

	out := make([]model.Vendor, 0, len(locs))
	for i, raw := range records {
		s, ok := raw.(string)
		if !ok {
			// indexed but record expired or deleted
			r.log.Warnf("vendor %s has no record, skipping", locs[i].Name)
			continue
		}
		var v model.Vendor
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			r.log.Errorf("corrupt record for vendor %s: %v", locs[i].Name, err)
			continue
		}
		if locs[i].Dist > radiusMiles+v.CoverageRadiusMiles {
			continue
		}
		if !v.CanServe(required) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Close releases the Redis connection.
func (r *RedisRoster) Close() error { return r.client.Close() }

func recordKey(id string) string { return fmt.Sprintf(recordKeyFmt, id) }
