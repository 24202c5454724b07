package services

import (
	"context"
	"sync"
	"time"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/logger"
	"vehicle-auction/pkg/utils"
)

// LotManager drives lot lifecycle transitions: Upcoming on creation, Live at
// start time, Ended at close time. Transitions never run backwards. Open and
// close are leader-gated so a single instance drives them even when several
// are deployed.
type LotManager struct {
	catalog        domain.LotCatalog
	stateCache     domain.LotStateCache
	sink           domain.NotificationSink
	scheduler      domain.LotScheduler
	leaderElection domain.LeaderElection
	clock          domain.Clock
	instanceID     string
	log            logger.Logger
	lotTimers      map[string]*time.Timer
	timerMutex     sync.RWMutex
}

func NewLotManager(
	catalog domain.LotCatalog,
	stateCache domain.LotStateCache,
	sink domain.NotificationSink,
	scheduler domain.LotScheduler,
	leaderElection domain.LeaderElection,
	clock domain.Clock,
	instanceID string,
	log logger.Logger,
) *LotManager {
	return &LotManager{
		catalog:        catalog,
		stateCache:     stateCache,
		sink:           sink,
		scheduler:      scheduler,
		leaderElection: leaderElection,
		clock:          clock,
		instanceID:     instanceID,
		log:            log,
		lotTimers:      make(map[string]*time.Timer),
	}
}

func (m *LotManager) CreateLot(ctx context.Context, startAt, closeAt time.Time, startingPrice int64) (*domain.Lot, error) {
	now := m.clock.Now()
	lot := &domain.Lot{
		ID:            utils.GenerateID("lot"),
		State:         domain.LotUpcoming,
		StartingPrice: startingPrice,
		StartAt:       startAt,
		CloseAt:       closeAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.catalog.CreateLot(ctx, lot); err != nil {
		return nil, err
	}

	if err := m.scheduler.ScheduleLotOpen(ctx, lot.ID, startAt); err != nil {
		return nil, err
	}

	if err := m.scheduler.ScheduleLotClose(ctx, lot.ID, closeAt); err != nil {
		return nil, err
	}

	m.log.Info("Lot created", "lot_id", lot.ID, "start_at", startAt, "close_at", closeAt)
	return lot, nil
}

func (m *LotManager) GetLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	return m.catalog.GetLot(ctx, lotID)
}

// OpenLot moves a lot to Live and seeds its current price from the starting
// price. The seed is what the first bid's floor is computed against.
func (m *LotManager) OpenLot(ctx context.Context, lotID string) error {
	isLeader, err := m.leaderElection.IsLeader(ctx, m.instanceID)
	if err != nil || !isLeader {
		return err
	}

	lot, err := m.catalog.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.State != domain.LotUpcoming {
		m.log.Warn("Ignoring open for lot not in upcoming state", "lot_id", lotID, "state", lot.State.String())
		return nil
	}

	m.log.Info("Opening lot", "lot_id", lotID)

	if err := m.catalog.SeedCurrentPrice(ctx, lotID, lot.StartingPrice); err != nil {
		return err
	}

	if err := m.catalog.UpdateLotState(ctx, lotID, domain.LotLive); err != nil {
		return err
	}

	return m.stateCache.SetLotState(ctx, lotID, domain.LotLive)
}

func (m *LotManager) CloseLot(ctx context.Context, lotID string) error {
	isLeader, err := m.leaderElection.IsLeader(ctx, m.instanceID)
	if err != nil || !isLeader {
		return err
	}

	lot, err := m.catalog.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.State != domain.LotLive {
		return nil
	}

	// Auto-extension may have pushed the close time past the job's run time;
	// the pending close fires again at the rescheduled time.
	if m.clock.Now().Before(lot.CloseAt) {
		m.log.Info("Close deferred, lot was extended", "lot_id", lotID, "close_at", lot.CloseAt)
		return m.scheduler.RescheduleLotClose(ctx, lotID, lot.CloseAt)
	}

	m.log.Info("Closing lot", "lot_id", lotID, "final_price", lot.CurrentPrice, "winner", lot.LeaderBidderID)

	if err := m.catalog.UpdateLotState(ctx, lotID, domain.LotEnded); err != nil {
		return err
	}

	if err := m.stateCache.SetLotState(ctx, lotID, domain.LotEnded); err != nil {
		return err
	}

	m.cancelTimer(lotID)

	return m.sink.Emit(ctx, &domain.LotEvent{
		Type:      domain.EventLotEnded,
		LotID:     lotID,
		BidderID:  lot.LeaderBidderID,
		Amount:    lot.CurrentPrice,
		Timestamp: m.clock.Now(),
	})
}

// HandleExtension reschedules the durable close job after the admission
// engine has already committed the new close time into the lot row.
func (m *LotManager) HandleExtension(ctx context.Context, lotID string, newCloseAt time.Time) error {
	isLeader, err := m.leaderElection.IsLeader(ctx, m.instanceID)
	if err != nil || !isLeader {
		return err
	}

	if err := m.scheduler.RescheduleLotClose(ctx, lotID, newCloseAt); err != nil {
		return err
	}

	m.setCloseTimer(lotID, newCloseAt)
	m.log.Info("Lot close rescheduled after extension", "lot_id", lotID, "new_close_at", newCloseAt)
	return nil
}

func (m *LotManager) setCloseTimer(lotID string, closeAt time.Time) {
	m.timerMutex.Lock()
	defer m.timerMutex.Unlock()

	if timer, exists := m.lotTimers[lotID]; exists {
		timer.Stop()
	}

	m.lotTimers[lotID] = time.AfterFunc(time.Until(closeAt), func() {
		m.CloseLot(context.Background(), lotID)
	})
}

func (m *LotManager) cancelTimer(lotID string) {
	m.timerMutex.Lock()
	defer m.timerMutex.Unlock()

	if timer, exists := m.lotTimers[lotID]; exists {
		timer.Stop()
		delete(m.lotTimers, lotID)
	}
}

func (m *LotManager) SetScheduler(scheduler domain.LotScheduler) {
	m.scheduler = scheduler
}
