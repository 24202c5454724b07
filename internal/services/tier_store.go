package services

import (
	"context"
	"encoding/json"
	"errors"

	"vehicle-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

const tierKey = "increment_tiers"

// TierStore persists the increment tier table in Redis so every service
// instance admits bids against the same schedule.
type TierStore struct {
	client           *redis.Client
	defaultIncrement int64
}

func NewTierStore(client *redis.Client, defaultIncrement int64) *TierStore {
	return &TierStore{
		client:           client,
		defaultIncrement: defaultIncrement,
	}
}

// LoadSchedule reads the tier table from Redis, seeding it with the default
// vehicle-auction bands on first run.
// TODO: tiers should be configurable per lot as a step during lot setup.
func (s *TierStore) LoadSchedule(ctx context.Context) (*IncrementSchedule, error) {
	data, err := s.client.Get(ctx, tierKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			tiers := defaultTiers()
			if err := s.saveTiers(ctx, tiers); err != nil {
				return nil, err
			}
			return NewIncrementSchedule(tiers, s.defaultIncrement)
		}
		return nil, err
	}

	var tiers []domain.IncrementTier
	if err := json.Unmarshal([]byte(data), &tiers); err != nil {
		return nil, err
	}

	return NewIncrementSchedule(tiers, s.defaultIncrement)
}

// SaveSchedule replaces the stored tier table.
func (s *TierStore) SaveSchedule(ctx context.Context, schedule *IncrementSchedule) error {
	return s.saveTiers(ctx, schedule.Tiers())
}

func (s *TierStore) saveTiers(ctx context.Context, tiers []domain.IncrementTier) error {
	data, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tierKey, string(data), 0).Err()
}

// Amounts are in the smallest currency unit.
func defaultTiers() []domain.IncrementTier {
	return []domain.IncrementTier{
		{UpperBound: 100000, Increment: 2500},
		{UpperBound: 500000, Increment: 5000},
		{UpperBound: 1500000, Increment: 10000},
	}
}
