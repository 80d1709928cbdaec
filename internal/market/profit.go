// ==============================================
// File: internal/market/profit.go
// ==============================================
package market

import (
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// Earnings are the cumulative payouts of one account.
type Earnings struct {
	ByShare     *big.Int // profit claimed as a holder
	ByReference *big.Int // referral commissions received
}

func (e Earnings) clone() Earnings {
	return Earnings{ByShare: numeric.Clone(e.ByShare), ByReference: numeric.Clone(e.ByReference)}
}

// Distributor tracks the profit pool and each holder's claim baseline.
//
// Entitlement is balance·ppt. claimedProfit holds what an account has already
// been paid or was deemed to own when its balance changed, so the pending
// payout is always entitlement − claimedProfit. The baseline is signed: a
// holder who sells before claiming ends with a negative baseline.
//
// A Distributor obtained from Fork records changes in its own maps and leaves
// the parent untouched until Commit.
type Distributor struct {
	parent *Distributor

	issued *big.Int
	pool   *big.Int
	ppt    *big.Int

	claimed  map[string]*big.Int
	earnings map[string]Earnings
}

func NewDistributor() *Distributor {
	return &Distributor{
		issued:   new(big.Int),
		pool:     new(big.Int),
		ppt:      new(big.Int),
		claimed:  make(map[string]*big.Int),
		earnings: make(map[string]Earnings),
	}
}

// Fork returns a child whose changes stay private until Commit.
func (d *Distributor) Fork() *Distributor {
	return &Distributor{
		parent:   d,
		issued:   numeric.Clone(d.issued),
		pool:     numeric.Clone(d.pool),
		ppt:      numeric.Clone(d.ppt),
		claimed:  make(map[string]*big.Int),
		earnings: make(map[string]Earnings),
	}
}

// Commit writes the fork's changes into its parent. Committing a root
// distributor does nothing.
func (d *Distributor) Commit() {
	p := d.parent
	if p == nil {
		return
	}
	p.issued = d.issued
	p.pool = d.pool
	p.ppt = d.ppt
	for acct, v := range d.claimed {
		p.claimed[acct] = v
	}
	for acct, e := range d.earnings {
		p.earnings[acct] = e
	}
	d.parent = nil
	d.claimed = make(map[string]*big.Int)
	d.earnings = make(map[string]Earnings)
}

// Dirty returns the claim baselines and earnings changed in this fork.
func (d *Distributor) Dirty() (map[string]*big.Int, map[string]Earnings) {
	claimed := make(map[string]*big.Int, len(d.claimed))
	for acct, v := range d.claimed {
		claimed[acct] = numeric.Clone(v)
	}
	earnings := make(map[string]Earnings, len(d.earnings))
	for acct, e := range d.earnings {
		earnings[acct] = e.clone()
	}
	return claimed, earnings
}

func (d *Distributor) IssuedSupply() *big.Int { return numeric.Clone(d.issued) }

func (d *Distributor) ProfitPool() *big.Int { return numeric.Clone(d.pool) }

func (d *Distributor) PPT() *big.Int { return numeric.Clone(d.ppt) }

// ClaimedProfit returns the claim baseline of account.
func (d *Distributor) ClaimedProfit(account string) *big.Int {
	return numeric.Clone(d.claimedOf(account))
}

func (d *Distributor) claimedOf(account string) *big.Int {
	for cur := d; cur != nil; cur = cur.parent {
		if v, ok := cur.claimed[account]; ok {
			return v
		}
	}
	return nil
}

// Earnings returns the cumulative payouts of account.
func (d *Distributor) Earnings(account string) Earnings {
	return d.earningsOf(account).clone()
}

func (d *Distributor) earningsOf(account string) Earnings {
	for cur := d; cur != nil; cur = cur.parent {
		if e, ok := cur.earnings[account]; ok {
			return e
		}
	}
	return Earnings{}
}

// TotalEarnings sums the payouts of every account.
func (d *Distributor) TotalEarnings() Earnings {
	total := Earnings{ByShare: new(big.Int), ByReference: new(big.Int)}
	seen := make(map[string]bool)
	for cur := d; cur != nil; cur = cur.parent {
		for acct, e := range cur.earnings {
			if seen[acct] {
				continue
			}
			seen[acct] = true
			if e.ByShare != nil {
				total.ByShare.Add(total.ByShare, e.ByShare)
			}
			if e.ByReference != nil {
				total.ByReference.Add(total.ByReference, e.ByReference)
			}
		}
	}
	return total
}

// Issue adds newly minted curve tokens to the issued supply. Sells never
// reduce it.
func (d *Distributor) Issue(amount *big.Int) error {
	issued, err := numeric.Add(d.issued, amount)
	if err != nil {
		return arith(err)
	}
	d.issued = issued
	return nil
}

// RecordRevenue adds value to the pool and recomputes ppt = pool / issued.
// The division remainder stays in the pool undistributed.
func (d *Distributor) RecordRevenue(value *big.Int) error {
	if d.issued.Sign() == 0 {
		return fmt.Errorf("%w: %w: no tokens issued", ErrArithmeticFault, numeric.ErrDivisionByZero)
	}
	pool, err := numeric.Add(d.pool, value)
	if err != nil {
		return arith(err)
	}
	ppt, err := numeric.Div(pool, d.issued)
	if err != nil {
		return arith(err)
	}
	d.pool = pool
	d.ppt = ppt
	return nil
}

// Accrue shifts the claim baseline of account by delta·ppt. delta is positive
// when tokens arrive and negative when they leave, so the moved tokens carry
// neither back pay nor a debt.
func (d *Distributor) Accrue(account string, delta *big.Int) error {
	shift, err := numeric.Mul(delta, d.ppt)
	if err != nil {
		return arith(err)
	}
	claimed, err := numeric.Add(d.claimedOf(account), shift)
	if err != nil {
		return arith(err)
	}
	d.claimed[account] = claimed
	return nil
}

// Pending returns balance·ppt − claimedProfit, or zero when that is negative.
func (d *Distributor) Pending(account string, balance *big.Int) (*big.Int, error) {
	entitlement, err := numeric.Mul(balance, d.ppt)
	if err != nil {
		return nil, arith(err)
	}
	payout, err := numeric.Sub(entitlement, d.claimedOf(account))
	if err != nil {
		return nil, arith(err)
	}
	if payout.Sign() < 0 {
		return new(big.Int), nil
	}
	return payout, nil
}

// Claim settles account's pending share and moves its baseline up to the
// full entitlement. A second claim with no trade in between finds nothing.
func (d *Distributor) Claim(account string, balance *big.Int) (*big.Int, error) {
	entitlement, err := numeric.Mul(balance, d.ppt)
	if err != nil {
		return nil, arith(err)
	}
	payout, err := numeric.Sub(entitlement, d.claimedOf(account))
	if err != nil {
		return nil, arith(err)
	}
	if payout.Sign() <= 0 {
		return nil, fmt.Errorf("%w: entitlement %s, already claimed %s",
			ErrNothingToClaim, entitlement, numeric.String(d.claimedOf(account)))
	}

	e := d.earningsOf(account).clone()
	byShare, err := numeric.Add(e.ByShare, payout)
	if err != nil {
		return nil, arith(err)
	}
	e.ByShare = byShare

	d.claimed[account] = entitlement
	d.earnings[account] = e
	return payout, nil
}

// RecordReferral credits a referral commission to account's earnings.
func (d *Distributor) RecordReferral(account string, commission *big.Int) error {
	e := d.earningsOf(account).clone()
	byRef, err := numeric.Add(e.ByReference, commission)
	if err != nil {
		return arith(err)
	}
	e.ByReference = byRef
	d.earnings[account] = e
	return nil
}

// restore replaces a root distributor's state.
func (d *Distributor) restore(issued, pool, ppt *big.Int, claimed map[string]*big.Int, earnings map[string]Earnings) {
	d.issued = numeric.Clone(issued)
	d.pool = numeric.Clone(pool)
	d.ppt = numeric.Clone(ppt)
	d.claimed = make(map[string]*big.Int, len(claimed))
	for acct, v := range claimed {
		d.claimed[acct] = numeric.Clone(v)
	}
	d.earnings = make(map[string]Earnings, len(earnings))
	for acct, e := range earnings {
		d.earnings[acct] = e.clone()
	}
}
