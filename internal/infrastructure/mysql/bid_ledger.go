package mysql

import (
	"context"
	"database/sql"

	"vehicle-auction/internal/domain"
)

// MySQLBidLedger is the append-only record of accepted bids. No update or
// delete path exists; rows are immutable after insert.
type MySQLBidLedger struct {
	db *sql.DB
}

func NewMySQLBidLedger(db *sql.DB) *MySQLBidLedger {
	return &MySQLBidLedger{db: db}
}

func (r *MySQLBidLedger) Append(ctx context.Context, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, lot_id, bidder_id, amount, placed_at, ip_address, user_agent)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		bid.ID, bid.LotID, bid.BidderID, bid.Amount, bid.PlacedAt, bid.IPAddress, bid.UserAgent)
	return err
}

func (r *MySQLBidLedger) History(ctx context.Context, lotID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, lot_id, bidder_id, amount, placed_at, ip_address, user_agent
        FROM bids
        WHERE lot_id = ?
        ORDER BY placed_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid
		err := rows.Scan(&bid.ID, &bid.LotID, &bid.BidderID, &bid.Amount,
			&bid.PlacedAt, &bid.IPAddress, &bid.UserAgent)
		if err != nil {
			return nil, err
		}
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}
