package services

import (
	"fmt"
	"sort"

	"vehicle-auction/internal/domain"
)

// IncrementSchedule maps a current price to the minimum raise required on top
// of it. Tiers partition the price axis into half-open bands; prices at or
// above the last bound fall through to the default increment. The schedule is
// immutable after construction and safe for concurrent use without locking.
type IncrementSchedule struct {
	tiers            []domain.IncrementTier
	defaultIncrement int64
}

// NewIncrementSchedule validates the tier table up front. A zero or negative
// increment and a non-ascending bound are configuration errors, rejected here
// rather than discovered mid-auction.
func NewIncrementSchedule(tiers []domain.IncrementTier, defaultIncrement int64) (*IncrementSchedule, error) {
	if defaultIncrement <= 0 {
		return nil, fmt.Errorf("default increment must be positive, got %d", defaultIncrement)
	}

	sorted := make([]domain.IncrementTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpperBound < sorted[j].UpperBound
	})

	for i, tier := range sorted {
		if tier.Increment <= 0 {
			return nil, fmt.Errorf("tier %d: increment must be positive, got %d", i, tier.Increment)
		}
		if tier.UpperBound <= 0 {
			return nil, fmt.Errorf("tier %d: upper bound must be positive, got %d", i, tier.UpperBound)
		}
		if i > 0 && tier.UpperBound == sorted[i-1].UpperBound {
			return nil, fmt.Errorf("tier %d: duplicate upper bound %d", i, tier.UpperBound)
		}
	}

	return &IncrementSchedule{
		tiers:            sorted,
		defaultIncrement: defaultIncrement,
	}, nil
}

// MinimumIncrement returns the raise required at currentPrice: the increment
// of the first tier whose upper bound exceeds the price, or the default when
// no tier matches.
func (s *IncrementSchedule) MinimumIncrement(currentPrice int64) int64 {
	for _, tier := range s.tiers {
		if currentPrice < tier.UpperBound {
			return tier.Increment
		}
	}
	return s.defaultIncrement
}

// MinimumBid is the floor for the next acceptable bid. Strictly above
// currentPrice for every valid schedule.
func (s *IncrementSchedule) MinimumBid(currentPrice int64) int64 {
	return currentPrice + s.MinimumIncrement(currentPrice)
}

// Tiers returns a copy of the tier table, for display and persistence.
func (s *IncrementSchedule) Tiers() []domain.IncrementTier {
	out := make([]domain.IncrementTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

func (s *IncrementSchedule) DefaultIncrement() int64 {
	return s.defaultIncrement
}
