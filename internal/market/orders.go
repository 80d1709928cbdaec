// ==============================================
// File: internal/market/orders.go
// ==============================================
package market

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// Order is one executed trade. Orders never change after they are appended.
type Order struct {
	ID        uint64
	Account   string
	Amount    *big.Int
	Value     *big.Int
	Timestamp time.Time
	Type      OrderType
}

func (o Order) clone() Order {
	o.Amount = numeric.Clone(o.Amount)
	o.Value = numeric.Clone(o.Value)
	return o
}

// OrderLedger is the append-only trade log. IDs start at 0 and are dense.
type OrderLedger struct {
	mu     sync.RWMutex
	orders []Order
}

func NewOrderLedger() *OrderLedger {
	return &OrderLedger{}
}

// Next returns the ID the next appended order will get.
func (l *OrderLedger) Next() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.orders))
}

// Append stores a new order and returns its ID.
func (l *OrderLedger) Append(account string, amount, value *big.Int, typ OrderType, ts time.Time) (uint64, error) {
	if err := validateOrder(account, amount, value, typ); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := uint64(len(l.orders))
	l.orders = append(l.orders, Order{
		ID:        id,
		Account:   account,
		Amount:    numeric.Clone(amount),
		Value:     numeric.Clone(value),
		Timestamp: ts,
		Type:      typ,
	})
	return id, nil
}

func validateOrder(account string, amount, value *big.Int, typ OrderType) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if !numeric.IsPositive(amount) || !numeric.IsPositive(value) {
		return fmt.Errorf("%w: order amount and value must be positive", ErrInvalidAmount)
	}
	if typ != OrderBuy && typ != OrderSell {
		return fmt.Errorf("unknown order type %q", typ)
	}
	return nil
}

// Get returns the order with the given ID.
func (l *OrderLedger) Get(id uint64) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id >= uint64(len(l.orders)) {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return l.orders[id].clone(), nil
}

func (l *OrderLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// List returns up to limit orders starting at offset. A non-positive limit
// returns everything after offset.
func (l *OrderLedger) List(offset, limit int) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.orders) {
		return nil
	}
	end := len(l.orders)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]Order, 0, end-offset)
	for _, o := range l.orders[offset:end] {
		out = append(out, o.clone())
	}
	return out
}

// ByAccount returns every order placed by account, oldest first.
func (l *OrderLedger) ByAccount(account string) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Order
	for _, o := range l.orders {
		if o.Account == account {
			out = append(out, o.clone())
		}
	}
	return out
}

// restore replaces the log with persisted orders, which must be dense.
func (l *OrderLedger) restore(orders []Order) error {
	restored := make([]Order, len(orders))
	for i, o := range orders {
		if o.ID != uint64(i) {
			return fmt.Errorf("order log has a gap: position %d holds order %d", i, o.ID)
		}
		restored[i] = o.clone()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = restored
	return nil
}
