package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Mirror keeps the latest per-vehicle estimate and risk in Redis for
// dashboards, and publishes events on fleet channels. Best effort: a Redis
// failure is logged and the pipeline moves on, Postgres stays the source of
// truth.
type Mirror struct {
	client *redis.Client
}

func NewMirror(ctx context.Context, addr string) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &Mirror{client: client}, nil
}

func (m *Mirror) Close() error { return m.client.Close() }

// SetEstimate mirrors the latest fuel estimate under vehicle:<id>:fuel.
func (m *Mirror) SetEstimate(ctx context.Context, vehicleID string, levelL, variance float64, biasDetected bool) {
	key := fmt.Sprintf("vehicle:%s:fuel", vehicleID)
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"level_l":       levelL,
		"variance":      variance,
		"bias_detected": biasDetected,
		"updated_at":    time.Now().Unix(),
	})
	pipe.Expire(ctx, key, 10*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Str("vehicle", vehicleID).Msg("redis estimate mirror failed")
	}
}

// SetRisk mirrors the latest composite risk under vehicle:<id>:risk.
func (m *Mirror) SetRisk(ctx context.Context, vehicleID string, score float64, level string) {
	key := fmt.Sprintf("vehicle:%s:risk", vehicleID)
	if err := m.client.HSet(ctx, key, map[string]interface{}{
		"score":      score,
		"level":      level,
		"updated_at": time.Now().Unix(),
	}).Err(); err != nil {
		log.Debug().Err(err).Str("vehicle", vehicleID).Msg("redis risk mirror failed")
	}
}

// PublishEvent pushes an event onto the fleet's live channel.
func (m *Mirror) PublishEvent(ctx context.Context, fleetID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Debug().Err(err).Msg("event marshal failed")
		return
	}
	channel := fmt.Sprintf("fleet:%s:events", fleetID)
	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("redis publish failed")
	}
}
