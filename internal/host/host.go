// internal/host/host.go
// Package host models what the execution environment hands to every market
// call: the caller, the attached payment, a timestamp source and the
// native-currency custody of the market itself.
package host

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Tx is the transaction context of a single market call.
type Tx struct {
	From      string
	Value     *big.Int
	Timestamp time.Time
}

// Clock supplies timestamps for calls that arrive without one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// MonotonicClock never returns a timestamp earlier than the previous one,
// even if the wall clock steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock wraps now; nil means time.Now in UTC.
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// ParseAddress validates an account address. Accounts are ed25519 public keys
// in base58, the same encoding the wallets of the host chain use.
func ParseAddress(s string) (string, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return pk.String(), nil
}

// NewAddress returns a fresh random address. Used by scenario files and tests
// that only need distinct accounts.
func NewAddress() string {
	return solana.NewWallet().PublicKey().String()
}
