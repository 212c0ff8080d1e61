package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates feed events on the Events channel.
type EventType string

const (
	// EventTick carries one parsed price observation.
	EventTick EventType = "tick"
	// EventConnected is emitted after a successful (re)connect + resubscribe.
	EventConnected EventType = "connected"
	// EventDisconnected is emitted when an open transport dies; a reconnect
	// is scheduled unless the attempt cap is already spent.
	EventDisconnected EventType = "disconnected"
	// EventDown is terminal: the reconnect cap was exceeded and the feed will
	// not retry on its own. Operators must act on this.
	EventDown EventType = "down"
)

// Event is the message-passing boundary between the transport and business
// logic: the consumer applies ticks to the price cache and surfaces Down.
type Event struct {
	Type       EventType
	Ticker     string
	Price      decimal.Decimal
	ObservedAt time.Time
	Err        error
}
