package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/racepulse/core/internal/observability"
)

const (
	positionTTL = time.Hour
)

// RedisStore implements Store over Redis, mirroring store/redis.go's
// NewRedisStore connection-verify-on-construct pattern and its use of
// sorted sets for timeline indices.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr and verifies connectivity before returning,
// the same fail-fast-at-construction behavior as the teacher's
// NewRedisStore.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) PutPosition(ctx context.Context, p Position) error {
	start := time.Now()
	defer func() { observability.StoreLatency.WithLabelValues("put_position").Observe(time.Since(start).Seconds()) }()

	blob, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, positionKey(p.RiderID), blob, positionTTL).Err(); err != nil {
		return err
	}
	member := positionsTimelineMember(p.RiderID, p.Timestamp.UnixMilli())
	return s.client.ZAdd(ctx, positionsTimelineKey, redis.Z{Score: float64(p.Timestamp.UnixMilli()), Member: member}).Err()
}

func (s *RedisStore) GetPosition(ctx context.Context, riderID string) (*Position, error) {
	start := time.Now()
	defer func() { observability.StoreLatency.WithLabelValues("get_position").Observe(time.Since(start).Seconds()) }()

	blob, err := s.client.Get(ctx, positionKey(riderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Position
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) PositionsSince(ctx context.Context, since time.Time) ([]Position, error) {
	members, err := s.client.ZRangeByScore(ctx, positionsTimelineKey, &redis.ZRangeBy{
		Min: floatString(float64(since.UnixMilli())), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Position, 0, len(members))
	for _, m := range members {
		riderID := riderIDFromMember(m)
		p, err := s.GetPosition(ctx, riderID)
		if err != nil || p == nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *RedisStore) PutTacticalEvent(ctx context.Context, e TacticalEvent) error {
	start := time.Now()
	defer func() { observability.StoreLatency.WithLabelValues("put_tactical_event").Observe(time.Since(start).Seconds()) }()

	blob, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := e.Retention
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, tacticalEventKey(e.EventID), blob, ttl).Err(); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, tacticalEventsTimelineKey, redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: e.EventID}).Err()
}

func (s *RedisStore) GetTacticalEvent(ctx context.Context, eventID string) (*TacticalEvent, error) {
	blob, err := s.client.Get(ctx, tacticalEventKey(eventID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e TacticalEvent
	if err := json.Unmarshal(blob, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) TacticalEventsSince(ctx context.Context, since time.Time) ([]TacticalEvent, error) {
	ids, err := s.client.ZRangeByScore(ctx, tacticalEventsTimelineKey, &redis.ZRangeBy{
		Min: floatString(float64(since.UnixMilli())), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TacticalEvent, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetTacticalEvent(ctx, id)
		if err != nil || e == nil {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *RedisStore) PutWeather(ctx context.Context, w WeatherObservation) error {
	blob, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, weatherKey(w.Kind, w.LocationKey), blob, 0).Err()
}

func (s *RedisStore) GetWeather(ctx context.Context, kind, locationKey string) (*WeatherObservation, error) {
	blob, err := s.client.Get(ctx, weatherKey(kind, locationKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w WeatherObservation
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
