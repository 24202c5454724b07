package websocket

import (
	"errors"
	"net/http"
	"strconv"

	"vehicle-auction/internal/domain"
	"vehicle-auction/internal/services"
	"vehicle-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WebSocketHandler struct {
	engine      *services.BidAdmissionEngine
	lotCatalog  domain.LotCatalog
	connManager domain.ConnectionManager
	clock       domain.Clock
	log         logger.Logger
}

func NewWebSocketHandler(engine *services.BidAdmissionEngine, lotCatalog domain.LotCatalog,
	connManager domain.ConnectionManager, clk domain.Clock, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		engine:      engine,
		lotCatalog:  lotCatalog,
		connManager: connManager,
		clock:       clk,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lotID := vars["lotID"]

	lot, err := h.lotCatalog.GetLot(r.Context(), lotID)
	if err != nil {
		h.log.Error("Failed to find lot", "error", err, "lot_id", lotID)
		http.Error(w, "lot not found", http.StatusNotFound)
		return
	}

	if !h.clock.Now().Before(lot.CloseAt) {
		h.log.Info("Rejected connection, lot has closed", "lot_id", lotID)
		http.Error(w, "lot has already closed", http.StatusForbidden)
		return
	}

	bidderID := r.URL.Query().Get("bidder_id")
	if bidderID == "" {
		http.Error(w, "bidder_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewConnection(conn, bidderID, lotID, h.log)

	if err := h.connManager.RegisterConnection(bidderID, lotID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		conn.Close()
		return
	}

	// Current snapshot so the client can render without a separate fetch
	wsConn.Send(map[string]interface{}{
		"type":           "lot_snapshot",
		"lot_id":         lot.ID,
		"state":          lot.State.String(),
		"current_price":  lot.CurrentPrice,
		"current_leader": lot.LeaderBidderID,
		"bid_count":      lot.BidCount,
		"close_at":       lot.CloseAt,
	})

	go h.handleMessages(wsConn, r, bidderID, lotID)
}

func (h *WebSocketHandler) handleMessages(conn *Connection, r *http.Request, bidderID, lotID string) {
	defer func() {
		h.connManager.UnregisterConnection(bidderID, lotID)
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("Failed to read message", "bidder_id", bidderID, "error", err)
			}
			break
		}

		msgType, ok := msg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bid":
			h.handleBidMessage(conn, r, bidderID, lotID, msg)
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *Connection, r *http.Request, bidderID, lotID string, msg map[string]interface{}) {
	amount, err := parseAmount(msg["amount"])
	if err != nil {
		conn.Send(map[string]string{"type": "bid_rejected", "reason": "invalid_amount"})
		return
	}

	meta := domain.BidMetadata{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	result, err := h.engine.PlaceBid(r.Context(), lotID, bidderID, amount, meta)
	if err != nil {
		conn.Send(rejectionMessage(err))
		return
	}

	conn.Send(map[string]interface{}{
		"type":          "bid_accepted",
		"bid_id":        result.Bid.ID,
		"amount":        result.Bid.Amount,
		"current_price": result.Lot.CurrentPrice,
		"bid_count":     result.Lot.BidCount,
		"close_at":      result.Lot.CloseAt,
	})
}

func rejectionMessage(err error) map[string]interface{} {
	var tooLow *domain.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return map[string]interface{}{
			"type":             "bid_rejected",
			"reason":           "bid_too_low",
			"required_minimum": tooLow.Floor,
		}
	case errors.Is(err, domain.ErrLotNotFound):
		return map[string]interface{}{"type": "bid_rejected", "reason": "lot_not_found"}
	case errors.Is(err, domain.ErrLotNotLive):
		return map[string]interface{}{"type": "bid_rejected", "reason": "lot_not_live"}
	case errors.Is(err, domain.ErrInvalidAmount):
		return map[string]interface{}{"type": "bid_rejected", "reason": "invalid_amount"}
	case errors.Is(err, domain.ErrSelfOutbid):
		return map[string]interface{}{"type": "bid_rejected", "reason": "self_outbid"}
	case errors.Is(err, domain.ErrContention):
		return map[string]interface{}{"type": "bid_rejected", "reason": "contention", "retryable": true}
	default:
		return map[string]interface{}{"type": "error", "message": "failed to place bid"}
	}
}

func parseAmount(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		// JSON numbers decode as float64; amounts are integral currency units
		if v != float64(int64(v)) {
			return 0, errors.New("amount must be an integer")
		}
		return int64(v), nil
	default:
		return 0, errors.New("amount missing or malformed")
	}
}
