package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"palmcontroller/internal/microservices/tcp"
)

const DefaultVolumeKey = "palm:volume"

// VolumeRedisRepo keeps the last reported volume in a Redis hash so a
// restarted host reports the real level instead of the default.
type VolumeRedisRepo struct {
	client *redis.Client
	key    string
}

func NewVolumeRedisRepo(client *redis.Client, key string) *VolumeRedisRepo {
	if key == "" {
		key = DefaultVolumeKey
	}
	return &VolumeRedisRepo{client: client, key: key}
}

func (r *VolumeRedisRepo) SaveVolume(ctx context.Context, state tcp.VolumeState) error {
	if r == nil || r.client == nil {
		// no-op without Redis
		return nil
	}
	fields := map[string]any{
		"level":      strconv.FormatFloat(state.Level, 'f', -1, 64),
		"muted":      strconv.FormatBool(state.Muted),
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}
	return r.client.HSet(ctx, r.key, fields).Err()
}

func (r *VolumeRedisRepo) LoadVolume(ctx context.Context) (tcp.VolumeState, bool, error) {
	if r == nil || r.client == nil {
		return tcp.VolumeState{}, false, nil
	}
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return tcp.VolumeState{}, false, err
	}
	if len(fields) == 0 {
		return tcp.VolumeState{}, false, nil // not stored yet
	}

	var state tcp.VolumeState
	if state.Level, err = strconv.ParseFloat(fields["level"], 64); err != nil {
		return tcp.VolumeState{}, false, nil
	}
	state.Muted, _ = strconv.ParseBool(fields["muted"])
	return state, true, nil
}
