package websocket

import (
	"sync"

	"vehicle-auction/pkg/logger"

	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla socket for one bidder watching one lot. Writes
// are serialized; gorilla permits only one concurrent writer per connection.
type Connection struct {
	conn     *websocket.Conn
	bidderID string
	lotID    string
	mu       sync.Mutex
	log      logger.Logger
}

func NewConnection(conn *websocket.Conn, bidderID, lotID string, log logger.Logger) *Connection {
	return &Connection{
		conn:     conn,
		bidderID: bidderID,
		lotID:    lotID,
		log:      log,
	}
}

func (c *Connection) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw, ok := message.([]byte); ok {
		return c.conn.WriteMessage(websocket.TextMessage, raw)
	}
	return c.conn.WriteJSON(message)
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) BidderID() string {
	return c.bidderID
}

func (c *Connection) LotID() string {
	return c.lotID
}
