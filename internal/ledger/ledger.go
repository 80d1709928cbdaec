// internal/ledger/ledger.go
// Package ledger is the fungible-token book of the market: balances, allowances
// and total supply for a single token. It has no notion of price or profit.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	ErrInvalidValue          = errors.New("invalid value")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrAllowanceMismatch     = errors.New("current allowance mismatch")
)

// Info describes the token.
type Info struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Token is an in-memory ledger safe for concurrent use.
type Token struct {
	mu          sync.RWMutex
	info        Info
	totalSupply *big.Int
	balances    map[string]*big.Int
	allowed     map[string]map[string]*big.Int
}

func New(info Info) *Token {
	return &Token{
		info:        info,
		totalSupply: new(big.Int),
		balances:    make(map[string]*big.Int),
		allowed:     make(map[string]map[string]*big.Int),
	}
}

func (t *Token) Info() Info { return t.info }

func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

func (t *Token) BalanceOf(owner string) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(owner)
}

func (t *Token) balanceOf(owner string) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) setBalance(owner string, v *big.Int) {
	if v.Sign() == 0 {
		delete(t.balances, owner)
		return
	}
	t.balances[owner] = v
}

// Holders returns the number of accounts with a non-zero balance.
func (t *Token) Holders() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.balances)
}

func validValue(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrInvalidValue
	}
	return nil
}

// Transfer moves value from one account to another.
func (t *Token) Transfer(from, to string, value *big.Int) error {
	if err := validValue(value); err != nil {
		return err
	}
	if from == "" || to == "" {
		return ErrInvalidAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, value)
}

func (t *Token) move(from, to string, value *big.Int) error {
	balance := t.balanceOf(from)
	if balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, balance, value)
	}
	t.setBalance(from, balance.Sub(balance, value))
	toBalance := t.balanceOf(to)
	t.setBalance(to, toBalance.Add(toBalance, value))
	return nil
}

// TransferFrom moves value out of from on behalf of spender, consuming allowance.
func (t *Token) TransferFrom(spender, from, to string, value *big.Int) error {
	if err := validValue(value); err != nil {
		return err
	}
	if spender == "" || from == "" || to == "" {
		return ErrInvalidAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowance(from, spender)
	if allowed.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s", ErrInsufficientAllowance, spender, allowed, from)
	}
	if err := t.move(from, to, value); err != nil {
		return err
	}
	t.setAllowance(from, spender, allowed.Sub(allowed, value))
	return nil
}

// Approve sets the allowance of spender over owner's tokens. currentValue must
// equal the allowance in place and value may not exceed owner's balance.
func (t *Token) Approve(owner, spender string, currentValue, value *big.Int) error {
	if err := validValue(value); err != nil {
		return err
	}
	if owner == "" || spender == "" {
		return ErrInvalidAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.allowance(owner, spender)
	if currentValue == nil || old.Cmp(currentValue) != 0 {
		return fmt.Errorf("%w: have %s", ErrAllowanceMismatch, old)
	}
	if t.balanceOf(owner).Cmp(value) < 0 {
		return fmt.Errorf("%w: allowance exceeds balance", ErrInvalidValue)
	}
	t.setAllowance(owner, spender, new(big.Int).Set(value))
	return nil
}

func (t *Token) Allowance(owner, spender string) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowance(owner, spender)
}

// Allowances returns a copy of every allowance granted by owner.
func (t *Token) Allowances(owner string) map[string]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*big.Int, len(t.allowed[owner]))
	for spender, v := range t.allowed[owner] {
		out[spender] = new(big.Int).Set(v)
	}
	return out
}

// RestoreAllowance sets an allowance unconditionally. It exists to undo an
// Approve or TransferFrom whose surrounding operation failed.
func (t *Token) RestoreAllowance(owner, spender string, value *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, cloneInt(value))
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (t *Token) allowance(owner, spender string) *big.Int {
	if v, ok := t.allowed[owner][spender]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (t *Token) setAllowance(owner, spender string, v *big.Int) {
	m, ok := t.allowed[owner]
	if !ok {
		m = make(map[string]*big.Int)
		t.allowed[owner] = m
	}
	m[spender] = v
}

// Mint creates value tokens for to.
func (t *Token) Mint(to string, value *big.Int) error {
	if err := validValue(value); err != nil {
		return err
	}
	if to == "" {
		return ErrInvalidAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.balanceOf(to)
	t.setBalance(to, b.Add(b, value))
	t.totalSupply.Add(t.totalSupply, value)
	return nil
}

// Burn destroys value tokens held by from.
func (t *Token) Burn(from string, value *big.Int) error {
	if err := validValue(value); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.balanceOf(from)
	if b.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s has %s, burning %s", ErrInsufficientBalance, from, b, value)
	}
	t.setBalance(from, b.Sub(b, value))
	t.totalSupply.Sub(t.totalSupply, value)
	return nil
}

// Restore replaces the book with previously persisted state.
func (t *Token) Restore(totalSupply *big.Int, balances map[string]*big.Int, allowed map[string]map[string]*big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalSupply = new(big.Int)
	if totalSupply != nil {
		t.totalSupply.Set(totalSupply)
	}
	t.balances = make(map[string]*big.Int, len(balances))
	for k, v := range balances {
		t.setBalance(k, new(big.Int).Set(v))
	}
	t.allowed = make(map[string]map[string]*big.Int, len(allowed))
	for owner, m := range allowed {
		for spender, v := range m {
			t.setAllowance(owner, spender, new(big.Int).Set(v))
		}
	}
}
