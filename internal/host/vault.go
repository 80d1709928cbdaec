package host

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var ErrInsufficientFunds = errors.New("insufficient vault funds")

// Vault is an in-memory custody of the market's native currency. Deposits are
// attached payments; withdrawals are payouts credited to the receiving account.
type Vault struct {
	mu       sync.RWMutex
	balance  *big.Int
	received map[string]*big.Int
	sent     map[string]*big.Int
}

func NewVault() *Vault {
	return &Vault{
		balance:  new(big.Int),
		received: make(map[string]*big.Int),
		sent:     make(map[string]*big.Int),
	}
}

// Deposit takes value from account into the vault.
func (v *Vault) Deposit(from string, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("invalid deposit value")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.balance.Add(v.balance, value)
	v.received[from] = addTo(v.received[from], value)
	return nil
}

// Withdraw pays value out of the vault to account.
func (v *Vault) Withdraw(to string, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("invalid withdrawal value")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, v.balance, value)
	}
	v.balance.Sub(v.balance, value)
	v.sent[to] = addTo(v.sent[to], value)
	return nil
}

// RevertDeposit returns a deposit that was never settled. Unlike Withdraw it
// also takes the value back out of the depositor's received total.
func (v *Vault) RevertDeposit(from string, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("invalid revert value")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: have %s, reverting %s", ErrInsufficientFunds, v.balance, value)
	}
	if v.received[from] == nil || v.received[from].Cmp(value) < 0 {
		return fmt.Errorf("deposit of %s from %s was never received", value, from)
	}
	v.balance.Sub(v.balance, value)
	v.received[from] = new(big.Int).Sub(v.received[from], value)
	return nil
}

// RevertWithdraw puts back a payout that was never settled and removes it
// from the recipient's sent total.
func (v *Vault) RevertWithdraw(to string, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("invalid revert value")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sent[to] == nil || v.sent[to].Cmp(value) < 0 {
		return fmt.Errorf("payout of %s to %s was never sent", value, to)
	}
	v.balance.Add(v.balance, value)
	v.sent[to] = new(big.Int).Sub(v.sent[to], value)
	return nil
}

// Balance returns the funds currently held.
func (v *Vault) Balance() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.balance)
}

// Sent returns the total paid out to account.
func (v *Vault) Sent(account string) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return addTo(nil, v.sent[account])
}

// Received returns the total deposited by account.
func (v *Vault) Received(account string) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return addTo(nil, v.received[account])
}

func addTo(acc, x *big.Int) *big.Int {
	if acc == nil {
		acc = new(big.Int)
	} else {
		acc = new(big.Int).Set(acc)
	}
	if x != nil {
		acc.Add(acc, x)
	}
	return acc
}
