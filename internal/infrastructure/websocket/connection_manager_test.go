package websocket

import (
	"errors"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type stubConn struct {
	mu       sync.Mutex
	bidderID string
	lotID    string
	sent     [][]byte
	sendErr  error
	closed   bool
}

func (c *stubConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if data, ok := message.([]byte); ok {
		c.sent = append(c.sent, data)
	}
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) BidderID() string { return c.bidderID }
func (c *stubConn) LotID() string    { return c.lotID }

func (c *stubConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Fatal(msg string, keysAndValues ...interface{}) {}

func TestRegisterAndLookup(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	conn1 := &stubConn{bidderID: "bidder-1", lotID: "lot-1"}
	conn2 := &stubConn{bidderID: "bidder-2", lotID: "lot-1"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", conn1))
	assert.NoError(t, cm.RegisterConnection("bidder-2", "lot-1", conn2))

	check.Equal(t, 2, len(cm.GetConnectionsForLot("lot-1")))
	check.Equal(t, 1, len(cm.GetConnectionsForBidder("bidder-1")))
	check.Equal(t, 0, len(cm.GetConnectionsForLot("lot-2")))
}

func TestUnregisterRemovesBothIndexes(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	conn := &stubConn{bidderID: "bidder-1", lotID: "lot-1"}
	other := &stubConn{bidderID: "bidder-1", lotID: "lot-2"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", conn))
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-2", other))

	assert.NoError(t, cm.UnregisterConnection("bidder-1", "lot-1"))

	check.Equal(t, 0, len(cm.GetConnectionsForLot("lot-1")))
	// The bidder's connection to the other lot survives
	check.Equal(t, 1, len(cm.GetConnectionsForBidder("bidder-1")))
	check.Equal(t, 1, len(cm.GetConnectionsForLot("lot-2")))
}

func TestBroadcastToLot(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	conn1 := &stubConn{bidderID: "bidder-1", lotID: "lot-1"}
	conn2 := &stubConn{bidderID: "bidder-2", lotID: "lot-1"}
	outside := &stubConn{bidderID: "bidder-3", lotID: "lot-2"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", conn1))
	assert.NoError(t, cm.RegisterConnection("bidder-2", "lot-1", conn2))
	assert.NoError(t, cm.RegisterConnection("bidder-3", "lot-2", outside))

	assert.NoError(t, cm.BroadcastToLot("lot-1", map[string]string{"type": "bid_update"}))

	check.Equal(t, 1, conn1.sentCount())
	check.Equal(t, 1, conn2.sentCount())
	check.Equal(t, 0, outside.sentCount())
}

func TestBroadcastContinuesPastFailedSend(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	failing := &stubConn{bidderID: "bidder-1", lotID: "lot-1", sendErr: errors.New("broken pipe")}
	healthy := &stubConn{bidderID: "bidder-2", lotID: "lot-1"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", failing))
	assert.NoError(t, cm.RegisterConnection("bidder-2", "lot-1", healthy))

	assert.NoError(t, cm.BroadcastToLot("lot-1", map[string]string{"type": "bid_update"}))
	check.Equal(t, 1, healthy.sentCount())
}

func TestNotifyBidderHitsAllTheirConnections(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	conn1 := &stubConn{bidderID: "bidder-1", lotID: "lot-1"}
	conn2 := &stubConn{bidderID: "bidder-1", lotID: "lot-2"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", conn1))
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-2", conn2))

	assert.NoError(t, cm.NotifyBidder("bidder-1", map[string]string{"type": "outbid"}))

	check.Equal(t, 1, conn1.sentCount())
	check.Equal(t, 1, conn2.sentCount())
}

func TestCloseAndUnregisterConnections(t *testing.T) {
	cm := NewConnectionManager(nopLogger{})

	conn1 := &stubConn{bidderID: "bidder-1", lotID: "lot-1"}
	conn2 := &stubConn{bidderID: "bidder-2", lotID: "lot-1"}
	assert.NoError(t, cm.RegisterConnection("bidder-1", "lot-1", conn1))
	assert.NoError(t, cm.RegisterConnection("bidder-2", "lot-1", conn2))

	assert.NoError(t, cm.CloseAndUnregisterConnections("lot-1"))

	check.True(t, conn1.isClosed())
	check.True(t, conn2.isClosed())
	check.Equal(t, 0, len(cm.GetConnectionsForLot("lot-1")))
	check.Equal(t, 0, len(cm.GetConnectionsForBidder("bidder-1")))
}
