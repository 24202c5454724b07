package domain

import (
	"errors"
	"fmt"
)

// Bid admission failures surfaced to callers. All are per-call; none is fatal
// to the process.
var (
	ErrLotNotFound   = errors.New("lot not found")
	ErrLotNotLive    = errors.New("lot is not live")
	ErrInvalidAmount = errors.New("bid amount must be a positive integer")
	ErrSelfOutbid    = errors.New("bidder already holds the leading bid")
	ErrContention    = errors.New("lot update contention, retries exhausted")

	// ErrUpdateConflict is returned by LotRepository.ConditionalUpdate when
	// the expected price token no longer matches the stored row.
	ErrUpdateConflict = errors.New("conditional update conflict")
)

// BidTooLowError carries the computed floor so the caller can display the
// minimum acceptable amount.
type BidTooLowError struct {
	Floor int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid below minimum, floor is %d", e.Floor)
}
