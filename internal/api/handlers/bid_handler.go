package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vehicle-auction/internal/domain"
	"vehicle-auction/internal/services"
	"vehicle-auction/pkg/logger"

	"github.com/gorilla/mux"
)

// BidHandler exposes bid placement and bid history over REST for clients
// that do not hold a socket open.
type BidHandler struct {
	engine     *services.BidAdmissionEngine
	lotCatalog domain.LotCatalog
	ledger     domain.BidLedger
	log        logger.Logger
}

type PlaceBidRequest struct {
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

type PlaceBidResponse struct {
	BidID        string    `json:"bid_id"`
	LotID        string    `json:"lot_id"`
	Amount       int64     `json:"amount"`
	CurrentPrice int64     `json:"current_price"`
	BidCount     int64     `json:"bid_count"`
	CloseAt      time.Time `json:"close_at"`
	PlacedAt     time.Time `json:"placed_at"`
}

type bidErrorResponse struct {
	Error           string `json:"error"`
	RequiredMinimum int64  `json:"required_minimum,omitempty"`
	Retryable       bool   `json:"retryable,omitempty"`
}

func NewBidHandler(engine *services.BidAdmissionEngine, lotCatalog domain.LotCatalog,
	ledger domain.BidLedger, log logger.Logger) *BidHandler {
	return &BidHandler{
		engine:     engine,
		lotCatalog: lotCatalog,
		ledger:     ledger,
		log:        log,
	}
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lotID := vars["id"]

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, bidErrorResponse{Error: "invalid request body"})
		return
	}

	if req.BidderID == "" {
		writeJSON(w, http.StatusBadRequest, bidErrorResponse{Error: "bidder_id required"})
		return
	}

	meta := domain.BidMetadata{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	result, err := h.engine.PlaceBid(r.Context(), lotID, req.BidderID, req.Amount, meta)
	if err != nil {
		status, body := mapBidError(err)
		if status == http.StatusInternalServerError {
			h.log.Error("Failed to place bid", "lot_id", lotID, "bidder_id", req.BidderID, "error", err)
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusCreated, PlaceBidResponse{
		BidID:        result.Bid.ID,
		LotID:        result.Bid.LotID,
		Amount:       result.Bid.Amount,
		CurrentPrice: result.Lot.CurrentPrice,
		BidCount:     result.Lot.BidCount,
		CloseAt:      result.Lot.CloseAt,
		PlacedAt:     result.Bid.PlacedAt,
	})
}

func (h *BidHandler) GetLot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lotID := vars["id"]

	lot, err := h.lotCatalog.GetLot(r.Context(), lotID)
	if err != nil {
		if errors.Is(err, domain.ErrLotNotFound) {
			writeJSON(w, http.StatusNotFound, bidErrorResponse{Error: "lot not found"})
			return
		}
		h.log.Error("Failed to load lot", "lot_id", lotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, bidErrorResponse{Error: "failed to load lot"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lot_id":         lot.ID,
		"state":          lot.State.String(),
		"starting_price": lot.StartingPrice,
		"current_price":  lot.CurrentPrice,
		"current_leader": lot.LeaderBidderID,
		"bid_count":      lot.BidCount,
		"start_at":       lot.StartAt,
		"close_at":       lot.CloseAt,
	})
}

func (h *BidHandler) GetBidHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lotID := vars["id"]

	bids, err := h.ledger.History(r.Context(), lotID)
	if err != nil {
		h.log.Error("Failed to load bid history", "lot_id", lotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, bidErrorResponse{Error: "failed to load bid history"})
		return
	}

	type historyEntry struct {
		BidID    string    `json:"bid_id"`
		BidderID string    `json:"bidder_id"`
		Amount   int64     `json:"amount"`
		PlacedAt time.Time `json:"placed_at"`
	}

	entries := make([]historyEntry, 0, len(bids))
	for _, bid := range bids {
		entries = append(entries, historyEntry{
			BidID:    bid.ID,
			BidderID: bid.BidderID,
			Amount:   bid.Amount,
			PlacedAt: bid.PlacedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lot_id": lotID,
		"bids":   entries,
	})
}

func mapBidError(err error) (int, bidErrorResponse) {
	var tooLow *domain.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return http.StatusUnprocessableEntity, bidErrorResponse{
			Error:           "bid below minimum",
			RequiredMinimum: tooLow.Floor,
		}
	case errors.Is(err, domain.ErrLotNotFound):
		return http.StatusNotFound, bidErrorResponse{Error: "lot not found"}
	case errors.Is(err, domain.ErrLotNotLive):
		return http.StatusConflict, bidErrorResponse{Error: "lot is not live"}
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, bidErrorResponse{Error: "amount must be a positive integer"}
	case errors.Is(err, domain.ErrSelfOutbid):
		return http.StatusConflict, bidErrorResponse{Error: "you already hold the leading bid"}
	case errors.Is(err, domain.ErrContention):
		return http.StatusServiceUnavailable, bidErrorResponse{Error: "lot is busy, try again", Retryable: true}
	default:
		return http.StatusInternalServerError, bidErrorResponse{Error: "failed to place bid"}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
