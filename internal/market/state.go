package market

import (
	"math/big"
)

// State is a full image of the market as persisted between runs.
type State struct {
	Price        *big.Int
	Slope        *big.Int
	IssuedSupply *big.Int
	ProfitPool   *big.Int
	PPT          *big.Int
	OrderIndex   uint64
	TotalSupply  *big.Int

	ClaimedProfit map[string]*big.Int
	Earnings      map[string]Earnings
	Orders        []Order
	Balances      map[string]*big.Int
	Allowed       map[string]map[string]*big.Int
}

// Reserve is the native balance the vault holds in this state: payments for
// buys minus sell payouts, referral commissions and claimed profit.
func (st *State) Reserve() *big.Int {
	r := new(big.Int)
	for _, o := range st.Orders {
		switch o.Type {
		case OrderBuy:
			r.Add(r, o.Value)
		case OrderSell:
			r.Sub(r, o.Value)
		}
	}
	for _, e := range st.Earnings {
		if e.ByShare != nil {
			r.Sub(r, e.ByShare)
		}
		if e.ByReference != nil {
			r.Sub(r, e.ByReference)
		}
	}
	return r
}

// Changeset is what one successful operation writes. Scalars are always set;
// map fields carry only the entries the operation touched. Allowed holds the
// complete allowance table of each touched owner.
type Changeset struct {
	Price        *big.Int
	Slope        *big.Int
	IssuedSupply *big.Int
	ProfitPool   *big.Int
	PPT          *big.Int
	OrderIndex   uint64
	TotalSupply  *big.Int

	ClaimedProfit map[string]*big.Int
	Earnings      map[string]Earnings
	Balances      map[string]*big.Int
	Allowed       map[string]map[string]*big.Int
	Order         *Order
}

// changeset assembles the writes of an operation from the forked curve and
// distributor and the collaborator state after its effects.
func (m *Market) changeset(curve *Curve, dist *Distributor, order *Order, accounts []string, owners []string) *Changeset {
	claimed, earnings := dist.Dirty()
	cs := &Changeset{
		Price:         curve.Price(),
		Slope:         curve.Slope(),
		IssuedSupply:  dist.IssuedSupply(),
		ProfitPool:    dist.ProfitPool(),
		PPT:           dist.PPT(),
		OrderIndex:    m.orders.Next(),
		TotalSupply:   m.ledger.TotalSupply(),
		ClaimedProfit: claimed,
		Earnings:      earnings,
		Balances:      make(map[string]*big.Int, len(accounts)),
		Allowed:       make(map[string]map[string]*big.Int, len(owners)),
	}
	for _, acct := range accounts {
		cs.Balances[acct] = m.ledger.BalanceOf(acct)
	}
	for _, owner := range owners {
		cs.Allowed[owner] = m.ledger.Allowances(owner)
	}
	if order != nil {
		o := order.clone()
		cs.Order = &o
		cs.OrderIndex = order.ID + 1
	}
	return cs
}
