package services

import (
	"context"
	"fmt"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/logger"
)

// EventListener fans lot events out to WebSocket subscribers and keeps the
// close schedule in line with auto-extensions.
type EventListener struct {
	lotMgr            *LotManager
	broadcaster       domain.LotBroadcaster
	notifier          domain.BidderNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(lotMgr *LotManager, connectionManager domain.ConnectionManager,
	broadcaster domain.LotBroadcaster, notifier domain.BidderNotifier, log logger.Logger) *EventListener {
	return &EventListener{
		lotMgr:            lotMgr,
		broadcaster:       broadcaster,
		notifier:          notifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToLotEvents(ctx, el.handleLotEvent)
}

func (el *EventListener) handleLotEvent(event *domain.LotEvent) error {
	el.log.Debug("Handling lot event", "type", event.Type, "lot_id", event.LotID)

	switch event.Type {
	case domain.EventBidAccepted:
		return el.handleBidAccepted(event)
	case domain.EventOutbid:
		return el.handleOutbid(event)
	case domain.EventLotExtended:
		return el.handleLotExtended(event)
	case domain.EventLotEnded:
		return el.handleLotEnded(event)
	case domain.EventLedgerRepair:
		// Reconciliation is out-of-band; surface it loudly and move on.
		el.log.Error("Ledger repair required",
			"lot_id", event.LotID, "bidder_id", event.BidderID, "amount", event.Amount)
		return nil
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) handleBidAccepted(event *domain.LotEvent) error {
	return el.broadcaster.BroadcastToLot(context.Background(), event.LotID, map[string]interface{}{
		"type":           "bid_update",
		"current_price":  event.Amount,
		"current_leader": event.BidderID,
		"bid_count":      event.BidCount,
		"close_at":       event.CloseAt,
		"timestamp":      event.Timestamp,
	})
}

func (el *EventListener) handleOutbid(event *domain.LotEvent) error {
	return el.notifier.NotifyBidder(context.Background(), event.PreviousLeaderID, map[string]interface{}{
		"type":       "outbid",
		"lot_id":     event.LotID,
		"new_amount": event.Amount,
		"timestamp":  event.Timestamp,
	})
}

func (el *EventListener) handleLotExtended(event *domain.LotEvent) error {
	if err := el.lotMgr.HandleExtension(context.Background(), event.LotID, event.CloseAt); err != nil {
		el.log.Error("Failed to reschedule extended lot", "lot_id", event.LotID, "error", err)
	}

	return el.broadcaster.BroadcastToLot(context.Background(), event.LotID, map[string]interface{}{
		"type":      "lot_extended",
		"close_at":  event.CloseAt,
		"timestamp": event.Timestamp,
	})
}

func (el *EventListener) handleLotEnded(event *domain.LotEvent) error {
	if err := el.broadcaster.BroadcastToLot(context.Background(), event.LotID, map[string]interface{}{
		"type":        "lot_ended",
		"final_price": event.Amount,
		"winner":      event.BidderID,
		"timestamp":   event.Timestamp,
	}); err != nil {
		el.log.Error("Failed to broadcast lot ended event", "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.LotID); err != nil {
		el.log.Error("Failed to finalize connections for lot", "lot_id", event.LotID, "error", err)
		return err
	}
	return nil
}
