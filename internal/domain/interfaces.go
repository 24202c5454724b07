package domain

import (
	"context"
	"time"
)

// Repository interfaces

// LotRepository owns lot state. ConditionalUpdate is the single hard
// requirement placed on storage: it must be atomic with respect to all other
// writers, succeeding only while the stored current price still equals
// expectedCurrentPrice. It bumps BidCount by one on success. It returns
// ErrUpdateConflict on a price mismatch and ErrLotNotFound for a missing lot.
type LotRepository interface {
	Get(ctx context.Context, lotID string) (*Lot, error)
	ConditionalUpdate(ctx context.Context, lotID string, expectedCurrentPrice int64, update LotUpdate) error
}

// LotCatalog is the lifecycle-facing surface of the durable store.
type LotCatalog interface {
	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, lotID string) (*Lot, error)
	UpdateLotState(ctx context.Context, lotID string, state LotState) error
	SeedCurrentPrice(ctx context.Context, lotID string, price int64) error
	GetLotsByState(ctx context.Context, state LotState) ([]*Lot, error)
}

// BidLedger is append-only; accepted bids are immutable after insert.
type BidLedger interface {
	Append(ctx context.Context, bid *Bid) error
	History(ctx context.Context, lotID string) ([]*Bid, error)
}

type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	GetPendingJobs(ctx context.Context, before time.Time) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForLot(ctx context.Context, lotID string) error
}

// Cache interfaces
type LotStateCache interface {
	SetLotState(ctx context.Context, lotID string, state LotState) error
	GetLotState(ctx context.Context, lotID string) (LotState, error)
}

// Event interfaces

// NotificationSink is fire-and-forget from the engine's point of view;
// failures are logged but never block bid acceptance.
type NotificationSink interface {
	Emit(ctx context.Context, event *LotEvent) error
}

type EventSubscriber interface {
	SubscribeToLotEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *LotEvent) error

// Notification interfaces
type BidderNotifier interface {
	NotifyBidder(ctx context.Context, bidderID string, message interface{}) error
}

type LotBroadcaster interface {
	BroadcastToLot(ctx context.Context, lotID string, message interface{}) error
}

// Clock supplies the engine's notion of now; injected so admission decisions
// are deterministically testable.
type Clock interface {
	Now() time.Time
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Scheduler interface
type LotScheduler interface {
	ScheduleLotOpen(ctx context.Context, lotID string, startAt time.Time) error
	ScheduleLotClose(ctx context.Context, lotID string, closeAt time.Time) error
	RescheduleLotClose(ctx context.Context, lotID string, newCloseAt time.Time) error
	CancelSchedule(ctx context.Context, lotID string) error
	Start(ctx context.Context) error
	Stop() error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	BidderID() string
	LotID() string
}

type ConnectionManager interface {
	RegisterConnection(bidderID, lotID string, conn WebSocketConnection) error
	UnregisterConnection(bidderID, lotID string) error
	GetConnectionsForLot(lotID string) []WebSocketConnection
	GetConnectionsForBidder(bidderID string) []WebSocketConnection
	BroadcastToLot(lotID string, message interface{}) error
	NotifyBidder(bidderID string, message interface{}) error
	CloseAndUnregisterConnections(lotID string) error
}
