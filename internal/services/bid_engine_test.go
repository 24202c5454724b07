package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/clock"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSchedule(t *testing.T) *IncrementSchedule {
	t.Helper()
	schedule, err := NewIncrementSchedule([]domain.IncrementTier{
		{UpperBound: 150000, Increment: 5000},
	}, 10000)
	assert.NoError(t, err)
	return schedule
}

func liveLot(id string, currentPrice int64, closeAt time.Time) *domain.Lot {
	return &domain.Lot{
		ID:             id,
		State:          domain.LotLive,
		StartingPrice:  100000,
		CurrentPrice:   currentPrice,
		StartAt:        testStart.Add(-time.Hour),
		CloseAt:        closeAt,
		CreatedAt:      testStart.Add(-2 * time.Hour),
		UpdatedAt:      testStart.Add(-time.Hour),
		LeaderBidderID: "",
	}
}

type engineFixture struct {
	engine *BidAdmissionEngine
	repo   *memLotRepo
	ledger *memLedger
	sink   *memSink
	clock  *clock.Manual
}

func newEngineFixture(t *testing.T, opts BidEngineOptions) *engineFixture {
	t.Helper()
	repo := newMemLotRepo()
	ledger := &memLedger{}
	sink := &memSink{}
	manual := clock.NewManual(testStart)
	if opts.ExtensionWindow == 0 {
		opts.ExtensionWindow = 5 * time.Minute
	}
	engine := NewBidAdmissionEngine(repo, ledger, sink, testSchedule(t), manual, opts, testLogger{})
	return &engineFixture{
		engine: engine,
		repo:   repo,
		ledger: ledger,
		sink:   sink,
		clock:  manual,
	}
}

func TestPlaceBid_LotNotFound(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})

	_, err := f.engine.PlaceBid(context.Background(), "lot-missing", "bidder-1", 105000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrLotNotFound))
}

func TestPlaceBid_LotNotLive(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})

	upcoming := liveLot("lot-1", 0, testStart.Add(time.Hour))
	upcoming.State = domain.LotUpcoming
	f.repo.put(upcoming)

	ended := liveLot("lot-2", 120000, testStart.Add(time.Hour))
	ended.State = domain.LotEnded
	f.repo.put(ended)

	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrLotNotLive))

	_, err = f.engine.PlaceBid(context.Background(), "lot-2", "bidder-1", 130000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrLotNotLive))
}

func TestPlaceBid_CloseTimeBeatsStaleStateFlag(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})

	// Stored state still says live, but the close time has passed
	lot := liveLot("lot-1", 100000, testStart.Add(-time.Second))
	f.repo.put(lot)

	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrLotNotLive))
}

func TestPlaceBid_InvalidAmount(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	for _, amount := range []int64{0, -1, -105000} {
		_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", amount, domain.BidMetadata{})
		check.True(t, errors.Is(err, domain.ErrInvalidAmount))
	}
}

func TestPlaceBid_FloorBoundary(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	// One unit below the floor carries the floor back to the caller
	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 104999, domain.BidMetadata{})
	var tooLow *domain.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, int64(105000), tooLow.Floor)

	// Exactly the floor is accepted
	result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(105000), result.Lot.CurrentPrice)
	check.Equal(t, int64(1), result.Lot.BidCount)
	check.Equal(t, "bidder-1", result.Lot.LeaderBidderID)
}

func TestPlaceBid_TierWalk(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	// 100000 -> floor 105000
	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 104999, domain.BidMetadata{})
	var tooLow *domain.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, int64(105000), tooLow.Floor)

	result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(105000), result.Lot.CurrentPrice)

	// 105000 is still below 150000, so the floor recomputes to 110000
	result, err = f.engine.PlaceBid(context.Background(), "lot-1", "bidder-2", 110000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(110000), result.Lot.CurrentPrice)
	check.Equal(t, int64(2), result.Lot.BidCount)
}

func TestPlaceBid_RepeatedIdenticalBidRejected(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{AllowSelfRaise: true})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)

	// The same amount no longer meets the new floor
	_, err = f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	var tooLow *domain.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, int64(110000), tooLow.Floor)
}

func TestPlaceBid_SelfOutbidPolicy(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)

	_, err = f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 110000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrSelfOutbid))

	// With the policy flag on, a leader may raise their own bid
	raised := newEngineFixture(t, BidEngineOptions{AllowSelfRaise: true})
	raised.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	_, err = raised.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	result, err := raised.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 110000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(110000), result.Lot.CurrentPrice)
}

func TestPlaceBid_AutoExtension(t *testing.T) {
	window := 5 * time.Minute

	t.Run("inside window pushes close out", func(t *testing.T) {
		f := newEngineFixture(t, BidEngineOptions{ExtensionWindow: window})
		f.repo.put(liveLot("lot-1", 100000, testStart.Add(window-time.Second)))

		result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
		assert.NoError(t, err)
		check.Equal(t, testStart.Add(window), result.Lot.CloseAt)

		extensions := f.sink.byType(domain.EventLotExtended)
		assert.Equal(t, 1, len(extensions))
		check.Equal(t, testStart.Add(window), extensions[0].CloseAt)
	})

	t.Run("outside window leaves close unchanged", func(t *testing.T) {
		f := newEngineFixture(t, BidEngineOptions{ExtensionWindow: window})
		closeAt := testStart.Add(window + time.Second)
		f.repo.put(liveLot("lot-1", 100000, closeAt))

		result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
		assert.NoError(t, err)
		check.Equal(t, closeAt, result.Lot.CloseAt)
		check.Equal(t, 0, len(f.sink.byType(domain.EventLotExtended)))
	})

	t.Run("rapid bids never compound the extension", func(t *testing.T) {
		f := newEngineFixture(t, BidEngineOptions{ExtensionWindow: window})
		f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Minute)))

		_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
		assert.NoError(t, err)
		result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-2", 110000, domain.BidMetadata{})
		assert.NoError(t, err)

		// Both extensions target now+window, not closeAt+window stacked
		check.Equal(t, testStart.Add(window), result.Lot.CloseAt)
	})
}

func TestPlaceBid_OutbidNotification(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	// First bid has nobody to outbid
	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, 0, len(f.sink.byType(domain.EventOutbid)))

	_, err = f.engine.PlaceBid(context.Background(), "lot-1", "bidder-2", 110000, domain.BidMetadata{})
	assert.NoError(t, err)

	outbids := f.sink.byType(domain.EventOutbid)
	assert.Equal(t, 1, len(outbids))
	check.Equal(t, "bidder-1", outbids[0].PreviousLeaderID)
	check.Equal(t, int64(110000), outbids[0].Amount)

	accepted := f.sink.byType(domain.EventBidAccepted)
	check.Equal(t, 2, len(accepted))
}

func TestPlaceBid_LedgerFailureStillSucceeds(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))
	f.ledger.failErr = errors.New("ledger unavailable")

	// The price commit is the source of truth; the caller still sees success
	result, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(105000), result.Lot.CurrentPrice)

	repairs := f.sink.byType(domain.EventLedgerRepair)
	assert.Equal(t, 1, len(repairs))
	check.Equal(t, "lot-1", repairs[0].LotID)
	check.Equal(t, int64(105000), repairs[0].Amount)
}

func TestPlaceBid_RetriesConflictThenSucceeds(t *testing.T) {
	base := newMemLotRepo()
	base.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))
	repo := &conflictingRepo{memLotRepo: base, conflicts: 2}

	ledger := &memLedger{}
	sink := &memSink{}
	engine := NewBidAdmissionEngine(repo, ledger, sink, testSchedule(t),
		clock.NewManual(testStart), BidEngineOptions{ExtensionWindow: 5 * time.Minute, MaxAttempts: 5}, testLogger{})

	result, err := engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	assert.NoError(t, err)
	check.Equal(t, int64(105000), result.Lot.CurrentPrice)
	check.Equal(t, int64(1), result.Lot.BidCount)
	check.Equal(t, 1, ledger.count())
}

func TestPlaceBid_ContentionAfterExhaustedRetries(t *testing.T) {
	base := newMemLotRepo()
	base.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))
	repo := &conflictingRepo{memLotRepo: base, conflicts: 100}

	engine := NewBidAdmissionEngine(repo, &memLedger{}, &memSink{}, testSchedule(t),
		clock.NewManual(testStart), BidEngineOptions{ExtensionWindow: 5 * time.Minute, MaxAttempts: 3}, testLogger{})

	_, err := engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 105000, domain.BidMetadata{})
	check.True(t, errors.Is(err, domain.ErrContention))

	// Every attempt reloaded a fresh snapshot
	check.Equal(t, 3, base.getCalls)
}

func TestPlaceBid_TwoRacingBidsCommitExactlyOne(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	// Both racers read currentPrice=100000; one conditional write wins, the
	// loser retries against the committed price and no longer meets the floor.
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	var tooLow int
	for _, bid := range []struct {
		bidder string
		amount int64
	}{
		{"bidder-1", 105000},
		{"bidder-2", 106000},
	} {
		wg.Add(1)
		go func(bidder string, amount int64) {
			defer wg.Done()
			_, err := f.engine.PlaceBid(context.Background(), "lot-1", bidder, amount, domain.BidMetadata{})
			mu.Lock()
			defer mu.Unlock()
			var floorErr *domain.BidTooLowError
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &floorErr):
				tooLow++
			}
		}(bid.bidder, bid.amount)
	}
	wg.Wait()

	lot := f.repo.snapshot("lot-1")
	check.Equal(t, 1, accepted)
	check.Equal(t, 1, tooLow)
	check.Equal(t, int64(1), lot.BidCount)
	check.Equal(t, 1, f.ledger.count())
}

func TestPlaceBid_ConcurrentStorm(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{MaxAttempts: 10})
	f.repo.put(liveLot("lot-1", 100000, testStart.Add(time.Hour)))

	const bidders = 24
	var wg sync.WaitGroup
	var mu sync.Mutex
	var acceptedAmounts []int64

	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(105000 + i*7000)
			result, err := f.engine.PlaceBid(context.Background(), "lot-1",
				fmt.Sprintf("bidder-%d", i), amount, domain.BidMetadata{})
			if err == nil {
				mu.Lock()
				acceptedAmounts = append(acceptedAmounts, result.Bid.Amount)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	lot := f.repo.snapshot("lot-1")

	// Final price is the maximum accepted amount, and the bid count matches
	// the number of accepted bids exactly.
	var maxAccepted int64
	for _, amount := range acceptedAmounts {
		if amount > maxAccepted {
			maxAccepted = amount
		}
	}
	assert.True(t, len(acceptedAmounts) >= 1)
	check.Equal(t, maxAccepted, lot.CurrentPrice)
	check.Equal(t, int64(len(acceptedAmounts)), lot.BidCount)
	check.Equal(t, len(acceptedAmounts), f.ledger.count())

	// Committed price sequence is strictly increasing in commit order
	committed := f.repo.commitOrder("lot-1")
	assert.Equal(t, len(acceptedAmounts), len(committed))
	for i := 1; i < len(committed); i++ {
		check.True(t, committed[i] > committed[i-1])
	}
}

func TestPlaceBid_FloorFallsBackToStartingPrice(t *testing.T) {
	f := newEngineFixture(t, BidEngineOptions{})

	// A live lot whose price was never seeded computes the floor from the
	// starting price.
	lot := liveLot("lot-1", 0, testStart.Add(time.Hour))
	lot.StartingPrice = 80000
	f.repo.put(lot)

	_, err := f.engine.PlaceBid(context.Background(), "lot-1", "bidder-1", 84999, domain.BidMetadata{})
	var tooLow *domain.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, int64(85000), tooLow.Floor)
}
