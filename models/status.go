package models

import "time"

// Status values broadcast on the system-status topic. Best-effort signals
// with no guaranteed consumer.
const (
	StatusFeedConnected    = "WEBSOCKET_CONNECTED"
	StatusFeedDisconnected = "WEBSOCKET_DISCONNECTED"
	StatusFeedError        = "WEBSOCKET_ERROR"
)

// StatusTopic is the broadcast topic for coarse system-status events.
const StatusTopic = "SYSTEM_STATUS"

// StatusEvent is a coarse operational signal emitted by the ingestor on
// transport state changes.
type StatusEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
