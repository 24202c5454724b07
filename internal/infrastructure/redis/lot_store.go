package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"vehicle-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

// LotMirror receives best-effort write-backs of committed bid state so the
// durable catalog converges on the live store. The monotone guard in the
// mirror makes out-of-order write-backs harmless.
type LotMirror interface {
	Get(ctx context.Context, lotID string) (*domain.Lot, error)
	UpdateIfHigher(ctx context.Context, lotID string, update domain.LotUpdate, bidCount int64) error
}

// LotStore keeps live lots in a Redis hash and implements the repository
// contract with a Lua compare-and-set keyed on the current price. Reads fall
// through to the mirror and seed the hash on first touch, so the store warms
// itself as lots go live. Lifecycle transitions reach the hash through
// StateCache.SetLotState, which updates the state flag of any seeded hash.
type LotStore struct {
	client *redis.Client
	mirror LotMirror
}

func NewLotStore(client *redis.Client, mirror LotMirror) *LotStore {
	return &LotStore{client: client, mirror: mirror}
}

var casScript = redis.NewScript(`
    local current = redis.call('HGET', KEYS[1], 'current_price')
    if current == false then
        return -1
    end
    if current ~= ARGV[1] then
        return 0
    end
    redis.call('HSET', KEYS[1],
        'current_price', ARGV[2],
        'leader_bidder_id', ARGV[3],
        'close_at', ARGV[4],
        'updated_at', ARGV[5])
    return redis.call('HINCRBY', KEYS[1], 'bid_count', 1)
`)

// seedScript creates the hash only while it is still absent. A concurrent
// seeder or an already-committed bid leaves the existing hash untouched; the
// caller re-reads either way, so a price committed between the empty read and
// the seed is never overwritten with the mirror's stale row.
var seedScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 1 then
        return 0
    end
    redis.call('HSET', KEYS[1],
        'state', ARGV[1],
        'starting_price', ARGV[2],
        'current_price', ARGV[3],
        'leader_bidder_id', ARGV[4],
        'bid_count', ARGV[5],
        'start_at', ARGV[6],
        'close_at', ARGV[7],
        'updated_at', ARGV[8])
    return 1
`)

func (s *LotStore) Get(ctx context.Context, lotID string) (*domain.Lot, error) {
	key := lotKey(lotID)

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return s.seedFromMirror(ctx, lotID)
	}

	return lotFromHash(lotID, fields)
}

func (s *LotStore) ConditionalUpdate(ctx context.Context, lotID string, expectedCurrentPrice int64, update domain.LotUpdate) error {
	result, err := casScript.Run(ctx, s.client, []string{lotKey(lotID)},
		strconv.FormatInt(expectedCurrentPrice, 10),
		strconv.FormatInt(update.CurrentPrice, 10),
		update.LeaderBidderID,
		strconv.FormatInt(update.CloseAt.UnixNano(), 10),
		strconv.FormatInt(update.UpdatedAt.UnixNano(), 10),
	).Result()
	if err != nil {
		return err
	}

	count, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected CAS reply type %T", result)
	}
	switch {
	case count == -1:
		return domain.ErrLotNotFound
	case count == 0:
		return domain.ErrUpdateConflict
	}

	s.writeBack(ctx, lotID, update, count)
	return nil
}

func (s *LotStore) writeBack(ctx context.Context, lotID string, update domain.LotUpdate, bidCount int64) {
	// The ledger remains the durable bid record; a failed mirror write is
	// caught up by the next accepted bid.
	_ = s.mirror.UpdateIfHigher(ctx, lotID, update, bidCount)
}

func (s *LotStore) seedFromMirror(ctx context.Context, lotID string) (*domain.Lot, error) {
	lot, err := s.mirror.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}

	key := lotKey(lotID)
	err = seedScript.Run(ctx, s.client, []string{key},
		strconv.Itoa(int(lot.State)),
		strconv.FormatInt(lot.StartingPrice, 10),
		strconv.FormatInt(lot.CurrentPrice, 10),
		lot.LeaderBidderID,
		strconv.FormatInt(lot.BidCount, 10),
		strconv.FormatInt(lot.StartAt.UnixNano(), 10),
		strconv.FormatInt(lot.CloseAt.UnixNano(), 10),
		strconv.FormatInt(lot.UpdatedAt.UnixNano(), 10),
	).Err()
	if err != nil {
		return nil, err
	}

	// Re-read the hash rather than returning the mirror row: if the seed lost
	// the race, the hash already carries committed bids.
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return lot, nil
	}

	return lotFromHash(lotID, fields)
}

func lotKey(lotID string) string {
	return fmt.Sprintf("lot:%s", lotID)
}

func lotFromHash(lotID string, fields map[string]string) (*domain.Lot, error) {
	lot := &domain.Lot{ID: lotID}

	state, err := strconv.Atoi(fields["state"])
	if err != nil {
		return nil, fmt.Errorf("lot %s: bad state field: %w", lotID, err)
	}
	lot.State = domain.LotState(state)
	lot.LeaderBidderID = fields["leader_bidder_id"]

	for field, dst := range map[string]*int64{
		"starting_price": &lot.StartingPrice,
		"current_price":  &lot.CurrentPrice,
		"bid_count":      &lot.BidCount,
	} {
		raw, ok := fields[field]
		if !ok {
			return nil, fmt.Errorf("lot %s: missing field %q", lotID, field)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lot %s: bad field %q: %w", lotID, field, err)
		}
		*dst = v
	}

	for field, dst := range map[string]*time.Time{
		"start_at":   &lot.StartAt,
		"close_at":   &lot.CloseAt,
		"updated_at": &lot.UpdatedAt,
	} {
		raw, ok := fields[field]
		if !ok {
			continue
		}
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lot %s: bad field %q: %w", lotID, field, err)
		}
		*dst = time.Unix(0, nanos)
	}

	return lot, nil
}
