package websocket

import (
	"context"

	"vehicle-auction/internal/domain"
)

// Notifier adapts the connection manager to the notifier/broadcaster
// interfaces consumed by the event listener.
type Notifier struct {
	connManager domain.ConnectionManager
}

func NewNotifier(connManager domain.ConnectionManager) *Notifier {
	return &Notifier{connManager: connManager}
}

func (n *Notifier) NotifyBidder(ctx context.Context, bidderID string, message interface{}) error {
	return n.connManager.NotifyBidder(bidderID, message)
}

func (n *Notifier) BroadcastToLot(ctx context.Context, lotID string, message interface{}) error {
	return n.connManager.BroadcastToLot(lotID, message)
}
