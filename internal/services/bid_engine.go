package services

import (
	"context"
	"errors"
	"time"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/logger"
	"vehicle-auction/pkg/utils"
)

// BidAdmissionEngine validates and applies bids against live lots. It holds
// no per-lot state between calls; every attempt works from a fresh repository
// snapshot and commits through the repository's atomic conditional update, so
// any number of engine instances can serve the same lot without in-process
// locks.
type BidAdmissionEngine struct {
	lotRepo  domain.LotRepository
	ledger   domain.BidLedger
	sink     domain.NotificationSink
	schedule *IncrementSchedule
	clock    domain.Clock
	log      logger.Logger

	extensionWindow time.Duration
	maxAttempts     int
	allowSelfRaise  bool
}

type BidEngineOptions struct {
	ExtensionWindow time.Duration
	MaxAttempts     int
	AllowSelfRaise  bool
}

// PlaceBidResult carries the accepted bid and the lot snapshot as committed.
type PlaceBidResult struct {
	Bid *domain.Bid
	Lot *domain.Lot
}

func NewBidAdmissionEngine(
	lotRepo domain.LotRepository,
	ledger domain.BidLedger,
	sink domain.NotificationSink,
	schedule *IncrementSchedule,
	clock domain.Clock,
	opts BidEngineOptions,
	log logger.Logger,
) *BidAdmissionEngine {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &BidAdmissionEngine{
		lotRepo:         lotRepo,
		ledger:          ledger,
		sink:            sink,
		schedule:        schedule,
		clock:           clock,
		log:             log,
		extensionWindow: opts.ExtensionWindow,
		maxAttempts:     maxAttempts,
		allowSelfRaise:  opts.AllowSelfRaise,
	}
}

// PlaceBid admits a bid against a lot. Client errors (ErrLotNotFound,
// ErrLotNotLive, ErrInvalidAmount, BidTooLowError, ErrSelfOutbid) are
// surfaced verbatim and never retried. A lost conditional write is retried
// against a fresh snapshot up to the configured attempt bound, then reported
// as ErrContention.
func (e *BidAdmissionEngine) PlaceBid(ctx context.Context, lotID, bidderID string, amount int64, meta domain.BidMetadata) (*PlaceBidResult, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		result, err := e.tryPlaceBid(ctx, lotID, bidderID, amount, meta)
		if errors.Is(err, domain.ErrUpdateConflict) {
			e.log.Debug("Conditional update lost, retrying with fresh snapshot",
				"lot_id", lotID, "bidder_id", bidderID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	e.log.Warn("Bid retries exhausted under contention",
		"lot_id", lotID, "bidder_id", bidderID, "amount", amount, "attempts", e.maxAttempts)
	return nil, domain.ErrContention
}

func (e *BidAdmissionEngine) tryPlaceBid(ctx context.Context, lotID, bidderID string, amount int64, meta domain.BidMetadata) (*PlaceBidResult, error) {
	lot, err := e.lotRepo.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()

	// CloseAt is authoritative over a stale state flag: a lot past its close
	// time is ended even if no lifecycle job has flipped it yet.
	if lot.State != domain.LotLive || !now.Before(lot.CloseAt) {
		return nil, domain.ErrLotNotLive
	}

	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	base := lot.CurrentPrice
	if base == 0 {
		base = lot.StartingPrice
	}

	floor := e.schedule.MinimumBid(base)
	if amount < floor {
		return nil, &domain.BidTooLowError{Floor: floor}
	}

	if !e.allowSelfRaise && bidderID == lot.LeaderBidderID {
		return nil, domain.ErrSelfOutbid
	}

	// Extension is "push close out to at least extensionWindow from now",
	// computed from the snapshot so rapid bidding never compounds it.
	newCloseAt := lot.CloseAt
	extended := false
	if lot.CloseAt.Sub(now) <= e.extensionWindow {
		newCloseAt = now.Add(e.extensionWindow)
		extended = true
	}

	update := domain.LotUpdate{
		CurrentPrice:   amount,
		LeaderBidderID: bidderID,
		CloseAt:        newCloseAt,
		UpdatedAt:      now,
	}

	if err := e.lotRepo.ConditionalUpdate(ctx, lotID, lot.CurrentPrice, update); err != nil {
		return nil, err
	}

	committed := *lot
	committed.CurrentPrice = amount
	committed.LeaderBidderID = bidderID
	committed.BidCount = lot.BidCount + 1
	committed.CloseAt = newCloseAt
	committed.UpdatedAt = now

	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		LotID:     lotID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}

	// The price commit is the source of truth. A ledger failure after it must
	// not roll back a price other bidders may already be reacting to; raise a
	// repair signal instead.
	if err := e.ledger.Append(ctx, bid); err != nil {
		e.log.Error("Ledger append failed after price commit",
			"lot_id", lotID, "bid_id", bid.ID, "error", err)
		e.emit(ctx, &domain.LotEvent{
			Type:      domain.EventLedgerRepair,
			LotID:     lotID,
			BidderID:  bidderID,
			Amount:    amount,
			Timestamp: now,
		})
	}

	if lot.LeaderBidderID != "" && lot.LeaderBidderID != bidderID {
		e.emit(ctx, &domain.LotEvent{
			Type:             domain.EventOutbid,
			LotID:            lotID,
			PreviousLeaderID: lot.LeaderBidderID,
			Amount:           amount,
			Timestamp:        now,
		})
	}

	accepted := &domain.LotEvent{
		Type:      domain.EventBidAccepted,
		LotID:     lotID,
		BidderID:  bidderID,
		Amount:    amount,
		BidCount:  committed.BidCount,
		CloseAt:   committed.CloseAt,
		Timestamp: now,
	}
	e.emit(ctx, accepted)

	if extended {
		e.emit(ctx, &domain.LotEvent{
			Type:      domain.EventLotExtended,
			LotID:     lotID,
			CloseAt:   newCloseAt,
			Timestamp: now,
		})
	}

	e.log.Info("Bid accepted",
		"lot_id", lotID, "bidder_id", bidderID, "amount", amount,
		"bid_count", committed.BidCount, "extended", extended)

	return &PlaceBidResult{Bid: bid, Lot: &committed}, nil
}

func (e *BidAdmissionEngine) emit(ctx context.Context, event *domain.LotEvent) {
	if err := e.sink.Emit(ctx, event); err != nil {
		e.log.Error("Failed to emit lot event", "type", event.Type, "lot_id", event.LotID, "error", err)
	}
}
