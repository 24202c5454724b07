package domain

import (
	"time"
)

// Lot is a single vehicle's auction listing. All prices are in the smallest
// currency unit. CurrentPrice stays zero until the lot opens, is seeded from
// StartingPrice on the Upcoming->Live transition, and is monotone
// non-decreasing afterwards. CurrentPrice is also the optimistic-concurrency
// token for conditional writes.
type Lot struct {
	ID             string
	State          LotState
	StartingPrice  int64
	CurrentPrice   int64
	LeaderBidderID string
	BidCount       int64
	StartAt        time.Time
	CloseAt        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LotState int

const (
	LotUpcoming LotState = iota
	LotLive
	LotEnded
)

func (s LotState) String() string {
	switch s {
	case LotUpcoming:
		return "upcoming"
	case LotLive:
		return "live"
	case LotEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Bid is immutable once accepted. IPAddress and UserAgent are audit metadata,
// opaque to the admission logic.
type Bid struct {
	ID        string
	LotID     string
	BidderID  string
	Amount    int64
	PlacedAt  time.Time
	IPAddress string
	UserAgent string
}

// BidMetadata travels alongside a bid attempt and ends up in the ledger row.
type BidMetadata struct {
	IPAddress string
	UserAgent string
}

// LotUpdate is the field set applied by a conditional write.
type LotUpdate struct {
	CurrentPrice   int64
	LeaderBidderID string
	CloseAt        time.Time
	UpdatedAt      time.Time
}

// IncrementTier maps the half-open price band [previous bound, UpperBound)
// to the minimum raise required inside it.
type IncrementTier struct {
	UpperBound int64 `json:"upper_bound"`
	Increment  int64 `json:"increment"`
}

type LotEvent struct {
	Type             LotEventType `json:"type"`
	LotID            string       `json:"lot_id"`
	BidderID         string       `json:"bidder_id,omitempty"`
	PreviousLeaderID string       `json:"previous_leader_id,omitempty"`
	Amount           int64        `json:"amount,omitempty"`
	BidCount         int64        `json:"bid_count,omitempty"`
	CloseAt          time.Time    `json:"close_at,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

type LotEventType string

const (
	EventBidAccepted  LotEventType = "bid_accepted"
	EventOutbid       LotEventType = "outbid"
	EventLotExtended  LotEventType = "lot_extended"
	EventLotEnded     LotEventType = "lot_ended"
	EventLedgerRepair LotEventType = "ledger_repair"
)

type ScheduledJob struct {
	ID        string
	LotID     string
	JobType   JobType
	RunAt     time.Time
	Status    JobStatus
	CreatedAt time.Time
}

type JobType string

const (
	JobOpenLot  JobType = "open_lot"
	JobCloseLot JobType = "close_lot"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)
