// internal/events/types.go
package events

import (
	"math/big"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Trade events
	TradeBuy  EventType = "trade.buy"
	TradeSell EventType = "trade.sell"

	// Profit events
	ProfitClaim EventType = "profit.claim"

	// Token events
	TokenTransfer EventType = "token.transfer"
	TokenApprove  EventType = "token.approve"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Success() bool
	Failure() string
}

// BaseEvent provides common fields for all events. Status is false when the
// operation was rejected; Error then carries the reason.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	Status    bool
	Error     string
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// Success reports whether the operation was applied.
func (e BaseEvent) Success() bool {
	return e.Status
}

// Failure returns the rejection reason of a failed operation.
func (e BaseEvent) Failure() string {
	return e.Error
}

// BuyEvent is emitted for every buy attempt.
type BuyEvent struct {
	BaseEvent
	Account      string
	Value        *big.Int
	Amount       *big.Int
	OrderID      uint64
	Price        *big.Int // price after the trade
	ProfitPool   *big.Int
	IssuedSupply *big.Int
	Referer      string
	Commission   *big.Int
}

// SellEvent is emitted for every sell attempt.
type SellEvent struct {
	BaseEvent
	Account      string
	Amount       *big.Int
	Value        *big.Int
	OrderID      uint64
	Price        *big.Int
	ProfitPool   *big.Int
	IssuedSupply *big.Int
}

// ClaimEvent is emitted when a holder claims its profit share.
type ClaimEvent struct {
	BaseEvent
	Account string
	Value   *big.Int
}

// TransferEvent is emitted when tokens move between holders.
type TransferEvent struct {
	BaseEvent
	Spender string // set for delegated transfers
	From    string
	To      string
	Value   *big.Int
}

// ApproveEvent is emitted when an allowance changes.
type ApproveEvent struct {
	BaseEvent
	Owner   string
	Spender string
	Value   *big.Int
}

// Account returns the account an event is keyed by.
func Account(e Event) string {
	switch ev := e.(type) {
	case BuyEvent:
		return ev.Account
	case SellEvent:
		return ev.Account
	case ClaimEvent:
		return ev.Account
	case TransferEvent:
		return ev.From
	case ApproveEvent:
		return ev.Owner
	}
	return ""
}
