package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vehicle-auction/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLLotRepository implements both the admission-side contract (Get +
// ConditionalUpdate) and the lifecycle-side catalog on the lots table. The
// conditional update relies on the WHERE clause matching the expected current
// price, which MySQL applies atomically per row.
type MySQLLotRepository struct {
	db *sql.DB
}

func NewMySQLLotRepository(db *sql.DB) *MySQLLotRepository {
	return &MySQLLotRepository{db: db}
}

func (r *MySQLLotRepository) CreateLot(ctx context.Context, lot *domain.Lot) error {
	query := `
        INSERT INTO lots (id, state, starting_price, current_price, leader_bidder_id,
                          bid_count, start_at, close_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		lot.ID, int(lot.State), lot.StartingPrice, lot.CurrentPrice, lot.LeaderBidderID,
		lot.BidCount, lot.StartAt, lot.CloseAt, lot.CreatedAt, lot.UpdatedAt)
	return err
}

func (r *MySQLLotRepository) Get(ctx context.Context, lotID string) (*domain.Lot, error) {
	return r.GetLot(ctx, lotID)
}

func (r *MySQLLotRepository) GetLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	query := `
        SELECT id, state, starting_price, current_price, leader_bidder_id,
               bid_count, start_at, close_at, created_at, updated_at
        FROM lots WHERE id = ?
    `

	var lot domain.Lot
	var state int

	err := r.db.QueryRowContext(ctx, query, lotID).Scan(
		&lot.ID, &state, &lot.StartingPrice, &lot.CurrentPrice, &lot.LeaderBidderID,
		&lot.BidCount, &lot.StartAt, &lot.CloseAt, &lot.CreatedAt, &lot.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLotNotFound
		}
		return nil, err
	}

	lot.State = domain.LotState(state)
	return &lot, nil
}

// ConditionalUpdate commits a bid only while the stored price still equals
// expectedCurrentPrice. Zero rows affected means either a concurrent writer
// won the race or the lot is gone; a follow-up existence check tells which.
func (r *MySQLLotRepository) ConditionalUpdate(ctx context.Context, lotID string, expectedCurrentPrice int64, update domain.LotUpdate) error {
	query := `
        UPDATE lots
        SET current_price = ?, leader_bidder_id = ?, bid_count = bid_count + 1,
            close_at = ?, updated_at = ?
        WHERE id = ? AND current_price = ?
    `
	result, err := r.db.ExecContext(ctx, query,
		update.CurrentPrice, update.LeaderBidderID, update.CloseAt, update.UpdatedAt,
		lotID, expectedCurrentPrice)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM lots WHERE id = ?`, lotID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrLotNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrUpdateConflict
}

func (r *MySQLLotRepository) UpdateLotState(ctx context.Context, lotID string, state domain.LotState) error {
	query := `UPDATE lots SET state = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, int(state), time.Now(), lotID)
	return err
}

// SeedCurrentPrice sets the initial price exactly once, on the transition to
// live. The current_price = 0 guard keeps a replayed open job from clobbering
// bids already taken.
func (r *MySQLLotRepository) SeedCurrentPrice(ctx context.Context, lotID string, price int64) error {
	query := `UPDATE lots SET current_price = ?, updated_at = ? WHERE id = ? AND current_price = 0`
	_, err := r.db.ExecContext(ctx, query, price, time.Now(), lotID)
	return err
}

// UpdateIfHigher mirrors committed bid state from the live store. The
// monotone guard lets write-backs arrive in any order and still converge on
// the highest committed price.
func (r *MySQLLotRepository) UpdateIfHigher(ctx context.Context, lotID string, update domain.LotUpdate, bidCount int64) error {
	query := `
        UPDATE lots
        SET current_price = ?, leader_bidder_id = ?, bid_count = GREATEST(bid_count, ?),
            close_at = ?, updated_at = ?
        WHERE id = ? AND current_price < ?
    `
	_, err := r.db.ExecContext(ctx, query,
		update.CurrentPrice, update.LeaderBidderID, bidCount,
		update.CloseAt, update.UpdatedAt, lotID, update.CurrentPrice)
	return err
}

func (r *MySQLLotRepository) GetLotsByState(ctx context.Context, state domain.LotState) ([]*domain.Lot, error) {
	query := `
        SELECT id, state, starting_price, current_price, leader_bidder_id,
               bid_count, start_at, close_at, created_at, updated_at
        FROM lots WHERE state = ?
    `

	rows, err := r.db.QueryContext(ctx, query, int(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []*domain.Lot
	for rows.Next() {
		var lot domain.Lot
		var st int

		err := rows.Scan(&lot.ID, &st, &lot.StartingPrice, &lot.CurrentPrice, &lot.LeaderBidderID,
			&lot.BidCount, &lot.StartAt, &lot.CloseAt, &lot.CreatedAt, &lot.UpdatedAt)
		if err != nil {
			return nil, err
		}

		lot.State = domain.LotState(st)
		lots = append(lots, &lot)
	}

	return lots, rows.Err()
}
