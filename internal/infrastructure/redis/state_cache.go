package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"vehicle-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

// StateCache holds each lot's lifecycle state for cheap reads by the socket
// layer. The repository row stays authoritative; a cache miss reads as
// upcoming. Writes also flip the state flag of the live-store hash when one
// has been seeded, so admission under the Redis driver sees lifecycle
// transitions without a round trip to the catalog.
type StateCache struct {
	client *redis.Client
}

func NewStateCache(client *redis.Client) *StateCache {
	return &StateCache{client: client}
}

// The hash is only touched when it already exists: creating it here would
// leave a partial hash that the lot store's seeding guard then refuses to
// fill in.
var stateSyncScript = redis.NewScript(`
    redis.call('SET', KEYS[1], ARGV[1])
    if redis.call('EXISTS', KEYS[2]) == 1 then
        redis.call('HSET', KEYS[2], 'state', ARGV[1])
    end
    return 1
`)

func (r *StateCache) SetLotState(ctx context.Context, lotID string, state domain.LotState) error {
	return stateSyncScript.Run(ctx, r.client,
		[]string{stateKey(lotID), lotKey(lotID)},
		strconv.Itoa(int(state)),
	).Err()
}

func (r *StateCache) GetLotState(ctx context.Context, lotID string) (domain.LotState, error) {
	result, err := r.client.Get(ctx, stateKey(lotID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.LotUpcoming, nil
		}
		return domain.LotUpcoming, err
	}

	state, err := strconv.Atoi(result)
	if err != nil {
		return domain.LotUpcoming, err
	}

	return domain.LotState(state), nil
}

func stateKey(lotID string) string {
	return fmt.Sprintf("lot:%s:state", lotID)
}
