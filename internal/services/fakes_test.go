package services

import (
	"context"
	"sync"
	"time"

	"vehicle-auction/internal/domain"
)

// memLotRepo implements the repository contract in memory with the same
// compare-and-set semantics the SQL and Redis backends provide.
type memLotRepo struct {
	mu        sync.Mutex
	lots      map[string]*domain.Lot
	committed map[string][]int64 // lot ID -> price sequence in commit order
	getCalls  int
}

func newMemLotRepo() *memLotRepo {
	return &memLotRepo{
		lots:      make(map[string]*domain.Lot),
		committed: make(map[string][]int64),
	}
}

func (r *memLotRepo) put(lot *domain.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *lot
	r.lots[lot.ID] = &copied
}

func (r *memLotRepo) Get(ctx context.Context, lotID string) (*domain.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	lot, ok := r.lots[lotID]
	if !ok {
		return nil, domain.ErrLotNotFound
	}
	copied := *lot
	return &copied, nil
}

func (r *memLotRepo) ConditionalUpdate(ctx context.Context, lotID string, expectedCurrentPrice int64, update domain.LotUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return domain.ErrLotNotFound
	}
	if lot.CurrentPrice != expectedCurrentPrice {
		return domain.ErrUpdateConflict
	}
	lot.CurrentPrice = update.CurrentPrice
	lot.LeaderBidderID = update.LeaderBidderID
	lot.BidCount++
	lot.CloseAt = update.CloseAt
	lot.UpdatedAt = update.UpdatedAt
	r.committed[lotID] = append(r.committed[lotID], update.CurrentPrice)
	return nil
}

func (r *memLotRepo) snapshot(lotID string) *domain.Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.lots[lotID]
	return &copied
}

func (r *memLotRepo) commitOrder(lotID string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.committed[lotID]))
	copy(out, r.committed[lotID])
	return out
}

// LotCatalog methods, for the lifecycle tests.

func (r *memLotRepo) CreateLot(ctx context.Context, lot *domain.Lot) error {
	r.put(lot)
	return nil
}

func (r *memLotRepo) GetLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	return r.Get(ctx, lotID)
}

func (r *memLotRepo) UpdateLotState(ctx context.Context, lotID string, state domain.LotState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return domain.ErrLotNotFound
	}
	lot.State = state
	return nil
}

func (r *memLotRepo) SeedCurrentPrice(ctx context.Context, lotID string, price int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return domain.ErrLotNotFound
	}
	if lot.CurrentPrice == 0 {
		lot.CurrentPrice = price
	}
	return nil
}

func (r *memLotRepo) GetLotsByState(ctx context.Context, state domain.LotState) ([]*domain.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Lot
	for _, lot := range r.lots {
		if lot.State == state {
			copied := *lot
			out = append(out, &copied)
		}
	}
	return out, nil
}

// conflictingRepo injects a fixed number of CAS conflicts before delegating.
type conflictingRepo struct {
	*memLotRepo
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) ConditionalUpdate(ctx context.Context, lotID string, expectedCurrentPrice int64, update domain.LotUpdate) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.ErrUpdateConflict
	}
	r.mu.Unlock()
	return r.memLotRepo.ConditionalUpdate(ctx, lotID, expectedCurrentPrice, update)
}

type memLedger struct {
	mu      sync.Mutex
	bids    []*domain.Bid
	failErr error
}

func (l *memLedger) Append(ctx context.Context, bid *domain.Bid) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	copied := *bid
	l.bids = append(l.bids, &copied)
	return nil
}

func (l *memLedger) History(ctx context.Context, lotID string) ([]*domain.Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Bid
	for _, bid := range l.bids {
		if bid.LotID == lotID {
			out = append(out, bid)
		}
	}
	return out, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bids)
}

type memSink struct {
	mu     sync.Mutex
	events []*domain.LotEvent
}

func (s *memSink) Emit(ctx context.Context, event *domain.LotEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *memSink) byType(eventType domain.LotEventType) []*domain.LotEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LotEvent
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type memStateCache struct {
	mu     sync.Mutex
	states map[string]domain.LotState
}

func newMemStateCache() *memStateCache {
	return &memStateCache{states: make(map[string]domain.LotState)}
}

func (c *memStateCache) SetLotState(ctx context.Context, lotID string, state domain.LotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[lotID] = state
	return nil
}

func (c *memStateCache) GetLotState(ctx context.Context, lotID string) (domain.LotState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[lotID], nil
}

type fakeScheduler struct {
	mu          sync.Mutex
	rescheduled map[string]time.Time
	scheduled   map[string]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		rescheduled: make(map[string]time.Time),
		scheduled:   make(map[string]time.Time),
	}
}

func (s *fakeScheduler) ScheduleLotOpen(ctx context.Context, lotID string, startAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled["open:"+lotID] = startAt
	return nil
}

func (s *fakeScheduler) ScheduleLotClose(ctx context.Context, lotID string, closeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled["close:"+lotID] = closeAt
	return nil
}

func (s *fakeScheduler) RescheduleLotClose(ctx context.Context, lotID string, newCloseAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescheduled[lotID] = newCloseAt
	return nil
}

func (s *fakeScheduler) CancelSchedule(ctx context.Context, lotID string) error {
	return nil
}

func (s *fakeScheduler) Start(ctx context.Context) error { return nil }
func (s *fakeScheduler) Stop() error                     { return nil }

func (s *fakeScheduler) rescheduledTo(lotID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rescheduled[lotID]
	return t, ok
}

type fakeLeader struct {
	leader bool
}

func (l *fakeLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, nil
}

func (l *fakeLeader) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, nil
}

func (l *fakeLeader) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return nil
}

// testLogger discards everything.
type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}
func (testLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (testLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (testLogger) Fatal(msg string, keysAndValues ...interface{}) {}
