package websocket

import (
	"encoding/json"
	"sync"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/logger"
)

// ConnectionManager tracks live sockets by lot and by bidder and fans
// messages out to either set. A send failure to one connection never stops
// delivery to the rest.
type ConnectionManager struct {
	connections map[string]map[string]domain.WebSocketConnection // lotID -> bidderID -> connection
	bidderConns map[string][]domain.WebSocketConnection          // bidderID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]domain.WebSocketConnection),
		bidderConns: make(map[string][]domain.WebSocketConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(bidderID, lotID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[lotID] == nil {
		cm.connections[lotID] = make(map[string]domain.WebSocketConnection)
	}
	cm.connections[lotID][bidderID] = conn

	cm.bidderConns[bidderID] = append(cm.bidderConns[bidderID], conn)

	cm.log.Info("Connection registered", "bidder_id", bidderID, "lot_id", lotID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(bidderID, lotID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.removeLocked(bidderID, lotID)

	cm.log.Info("Connection unregistered", "bidder_id", bidderID, "lot_id", lotID)
	return nil
}

func (cm *ConnectionManager) removeLocked(bidderID, lotID string) {
	if lotConns, exists := cm.connections[lotID]; exists {
		delete(lotConns, bidderID)
		if len(lotConns) == 0 {
			delete(cm.connections, lotID)
		}
	}

	if bidderConnections, exists := cm.bidderConns[bidderID]; exists {
		var kept []domain.WebSocketConnection
		for _, existingConn := range bidderConnections {
			if existingConn.LotID() != lotID {
				kept = append(kept, existingConn)
			}
		}

		if len(kept) == 0 {
			delete(cm.bidderConns, bidderID)
		} else {
			cm.bidderConns[bidderID] = kept
		}
	}
}

func (cm *ConnectionManager) CloseAndUnregisterConnections(lotID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	lotConns, exists := cm.connections[lotID]
	if !exists {
		return nil
	}

	for bidderID, conn := range lotConns {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "bidder_id", bidderID,
				"lot_id", lotID, "error", err)
		}
		cm.removeLocked(bidderID, lotID)
	}
	delete(cm.connections, lotID)

	cm.log.Info("Connections closed for lot", "lot_id", lotID)
	return nil
}

func (cm *ConnectionManager) GetConnectionsForLot(lotID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for _, conn := range cm.connections[lotID] {
		connections = append(connections, conn)
	}

	return connections
}

func (cm *ConnectionManager) GetConnectionsForBidder(bidderID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return cm.bidderConns[bidderID]
}

func (cm *ConnectionManager) BroadcastToLot(lotID string, message interface{}) error {
	connections := cm.GetConnectionsForLot(lotID)

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(messageBytes); err != nil {
			cm.log.Error("Failed to send message", "bidder_id", conn.BidderID(),
				"lot_id", lotID, "error", err)
			// Continue to other connections
		}
	}

	return nil
}

func (cm *ConnectionManager) NotifyBidder(bidderID string, message interface{}) error {
	connections := cm.GetConnectionsForBidder(bidderID)

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(messageBytes); err != nil {
			cm.log.Error("Failed to send message", "bidder_id", bidderID, "error", err)
		}
	}

	return nil
}
