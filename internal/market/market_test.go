package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/ledger"
)

type flakyVault struct {
	*host.Vault
	blocked map[string]bool
}

func (v *flakyVault) Withdraw(to string, value *big.Int) error {
	if v.blocked[to] {
		return fmt.Errorf("payout to %s: %w", to, host.ErrInsufficientFunds)
	}
	return v.Vault.Withdraw(to, value)
}

type memStore struct {
	mu      sync.Mutex
	err     error
	commits []*Changeset
}

func (s *memStore) Commit(_ context.Context, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commits = append(s.commits, cs)
	return nil
}

type fixture struct {
	market *Market
	token  *ledger.Token
	vault  *flakyVault
	store  *memStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		token: ledger.New(ledger.Info{Name: "lost in nebulas", Symbol: "lnb", Decimals: 0}),
		vault: &flakyVault{Vault: host.NewVault()},
		store: &memStore{},
	}
	opts = append([]Option{WithStore(f.store)}, opts...)
	m, err := New(Config{
		InitialPrice:   big.NewInt(100),
		Slope:          big.NewInt(1),
		ReferralCutBps: 500,
	}, f.token, f.vault, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	f.market = m
	return f
}

func pay(from string, value int64) host.Tx {
	return host.Tx{From: from, Value: big.NewInt(value)}
}

func call(from string) host.Tx {
	return host.Tx{From: from}
}

func TestNew_Validation(t *testing.T) {
	tok := ledger.New(ledger.Info{})
	vault := host.NewVault()

	_, err := New(Config{InitialPrice: big.NewInt(1), Slope: big.NewInt(0)}, tok, vault, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(Config{InitialPrice: big.NewInt(1), Slope: big.NewInt(1), ReferralCutBps: 10001}, tok, vault, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(Config{InitialPrice: big.NewInt(1), Slope: big.NewInt(1)}, nil, vault, zap.NewNop())
	assert.Error(t, err)
}

func TestBuy_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.market.Buy(ctx, pay("alice", 250), "")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), trade.OrderID)
	assert.Equal(t, "2", trade.Amount.String())
	assert.Equal(t, "250", trade.Value.String())
	assert.Equal(t, "102", trade.Price.String())

	m := f.market
	assert.Equal(t, "102", m.Price().String())
	assert.Equal(t, "2", m.BalanceOf("alice").String())
	assert.Equal(t, "2", m.IssuedSupply().String())
	assert.Equal(t, "250", m.ProfitPool().String())
	assert.Equal(t, "125", m.PPT().String())
	assert.Equal(t, "250", m.ClaimedProfit("alice").String())
	assert.Equal(t, "250", f.vault.Balance().String())

	pending, err := m.Pending("alice")
	require.NoError(t, err)
	assert.Equal(t, "0", pending.String())

	o, err := m.Order(0)
	require.NoError(t, err)
	assert.Equal(t, OrderBuy, o.Type)
	assert.Equal(t, "alice", o.Account)
	assert.False(t, o.Timestamp.IsZero(), "timestamp filled from the clock")

	require.Len(t, f.store.commits, 1)
	cs := f.store.commits[0]
	require.NotNil(t, cs.Order)
	assert.Equal(t, uint64(1), cs.OrderIndex)
	assert.Equal(t, "102", cs.Price.String())
	assert.Equal(t, "2", cs.Balances["alice"].String())
	assert.Equal(t, "250", cs.ClaimedProfit["alice"].String())
	assert.Equal(t, "2", cs.TotalSupply.String())
}

func TestBuy_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		tx      host.Tx
		wantErr error
	}{
		{name: "zero payment", tx: pay("alice", 0), wantErr: ErrInvalidAmount},
		{name: "negative payment", tx: pay("alice", -10), wantErr: ErrInvalidAmount},
		{name: "no payment", tx: call("alice"), wantErr: ErrInvalidAmount},
		{name: "below one token", tx: pay("alice", 99), wantErr: ErrInsufficientPayment},
		{name: "no caller", tx: pay("", 250), wantErr: ErrInvalidAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.market.Buy(context.Background(), tt.tx, "")
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, "100", f.market.Price().String())
			assert.Equal(t, 0, f.market.OrderCount())
			assert.Equal(t, "0", f.vault.Balance().String())
			assert.Equal(t, "0", f.token.TotalSupply().String())
			assert.Empty(t, f.store.commits)
		})
	}
}

func TestBuy_Referral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.market.Buy(ctx, pay("alice", 1000), "bob")
	require.NoError(t, err)
	assert.Equal(t, "50", trade.Commission.String())

	assert.Equal(t, "1000", f.market.ProfitPool().String(), "the pool keeps the whole payment")
	assert.Equal(t, "950", f.vault.Balance().String())
	assert.Equal(t, "50", f.vault.Sent("bob").String())
	assert.Equal(t, "50", f.market.Earnings("bob").ByReference.String())

	trade, err = f.market.Buy(ctx, pay("alice", 1000), "alice")
	require.NoError(t, err)
	assert.Equal(t, "0", trade.Commission.String(), "self referral pays nothing")
	assert.Equal(t, "1950", f.vault.Balance().String())
}

func TestSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.market.Buy(ctx, pay("alice", 250), "")
	require.NoError(t, err)

	trade, err := f.market.Sell(ctx, call("alice"), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), trade.OrderID)
	assert.Equal(t, "202", trade.Value.String())
	assert.Equal(t, "100", trade.Price.String())

	m := f.market
	assert.Equal(t, "0", m.BalanceOf("alice").String())
	assert.Equal(t, "2", m.IssuedSupply().String(), "sold tokens stay issued")
	assert.Equal(t, "0", f.token.TotalSupply().String())
	assert.Equal(t, "250", m.ProfitPool().String())
	assert.Equal(t, "0", m.ClaimedProfit("alice").String())
	assert.Equal(t, "48", f.vault.Balance().String())
	assert.Equal(t, "202", f.vault.Sent("alice").String())

	o, err := m.Order(1)
	require.NoError(t, err)
	assert.Equal(t, OrderSell, o.Type)
	assert.Equal(t, "202", o.Value.String())
}

func TestSell_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.market.Buy(ctx, pay("alice", 250), "")
	require.NoError(t, err)

	_, err = f.market.Sell(ctx, call("alice"), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.market.Sell(ctx, call("alice"), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.market.Sell(ctx, call("alice"), big.NewInt(3))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.market.Sell(ctx, call("bob"), big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, "102", f.market.Price().String())
	assert.Equal(t, 1, f.market.OrderCount())
}

func TestSell_ScenarioC(t *testing.T) {
	f := newFixture(t)

	// tokens minted outside the curve let a holder sell past the price floor
	require.NoError(t, f.token.Mint("alice", big.NewInt(200)))

	_, err := f.market.Sell(context.Background(), call("alice"), big.NewInt(150))
	assert.ErrorIs(t, err, ErrCurveUnderflow)
	assert.Equal(t, "100", f.market.Price().String())
	assert.Equal(t, "200", f.token.BalanceOf("alice").String())
	assert.Equal(t, 0, f.market.OrderCount())
}

// alice buys 2 tokens for 202 (ppt 101), bob 18 for 2000 (ppt 110):
// alice's two tokens earned 2·(110−101) = 18.
func claimFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.market.Buy(ctx, pay("alice", 202), "")
	require.NoError(t, err)
	require.Equal(t, "2", trade.Amount.String())
	trade, err = f.market.Buy(ctx, pay("bob", 2000), "")
	require.NoError(t, err)
	require.Equal(t, "18", trade.Amount.String())
	require.Equal(t, "110", f.market.PPT().String())
	return f
}

func TestClaim(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()

	pending, err := f.market.Pending("alice")
	require.NoError(t, err)
	assert.Equal(t, "18", pending.String())

	payout, err := f.market.Claim(ctx, call("alice"))
	require.NoError(t, err)
	assert.Equal(t, "18", payout.String())
	assert.Equal(t, "220", f.market.ClaimedProfit("alice").String())
	assert.Equal(t, "18", f.market.Earnings("alice").ByShare.String())
	assert.Equal(t, "2184", f.vault.Balance().String())

	_, err = f.market.Claim(ctx, call("alice"))
	assert.ErrorIs(t, err, ErrNothingToClaim)

	_, err = f.market.Claim(ctx, call("bob"))
	assert.ErrorIs(t, err, ErrNothingToClaim)

	_, err = f.market.Claim(ctx, call(""))
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestTotalEarningsAndHolders(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()
	assert.Equal(t, 2, f.market.Holders())

	_, err := f.market.Claim(ctx, call("alice"))
	require.NoError(t, err)
	_, err = f.market.Buy(ctx, pay("carol", 500), "bob")
	require.NoError(t, err)

	total := f.market.TotalEarnings()
	assert.Equal(t, "18", total.ByShare.String())
	assert.Equal(t, "25", total.ByReference.String())
	assert.Equal(t, 3, f.market.Holders())

	_, err = f.market.Sell(ctx, call("alice"), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, 2, f.market.Holders(), "an emptied account stops being a holder")
}

func TestSell_DoesNotClaim(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()

	trade, err := f.market.Sell(ctx, call("alice"), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, "238", trade.Value.String())
	assert.Equal(t, "238", f.vault.Sent("alice").String(), "sell pays only the curve value")

	pending, err := f.market.Pending("alice")
	require.NoError(t, err)
	assert.Equal(t, "18", pending.String())

	payout, err := f.market.Claim(ctx, call("alice"))
	require.NoError(t, err)
	assert.Equal(t, "18", payout.String())
}

func TestTransfer_CarriesBaseline(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()

	require.NoError(t, f.market.Transfer(ctx, call("alice"), "carol", big.NewInt(1)))

	assert.Equal(t, "1", f.market.BalanceOf("alice").String())
	assert.Equal(t, "1", f.market.BalanceOf("carol").String())

	alice, err := f.market.Pending("alice")
	require.NoError(t, err)
	assert.Equal(t, "18", alice.String(), "the sender keeps what it earned")

	carol, err := f.market.Pending("carol")
	require.NoError(t, err)
	assert.Equal(t, "0", carol.String(), "the receiver gets no back pay")

	err = f.market.Transfer(ctx, call("carol"), "alice", big.NewInt(5))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	err = f.market.Transfer(ctx, call("carol"), "", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAccount)
	err = f.market.Transfer(ctx, call("carol"), "alice", big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApproveAndTransferFrom(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()
	m := f.market

	require.NoError(t, m.Approve(ctx, call("alice"), "bob", big.NewInt(0), big.NewInt(1)))
	assert.Equal(t, "1", f.token.Allowance("alice", "bob").String())

	err := m.Approve(ctx, call("alice"), "bob", big.NewInt(0), big.NewInt(2))
	assert.ErrorIs(t, err, ErrInvalidAmount, "current value must match")
	err = m.Approve(ctx, call("alice"), "bob", big.NewInt(1), big.NewInt(3))
	assert.ErrorIs(t, err, ErrInvalidAmount, "allowance above balance")

	require.NoError(t, m.TransferFrom(ctx, call("bob"), "alice", "carol", big.NewInt(1)))
	assert.Equal(t, "0", f.token.Allowance("alice", "bob").String())
	assert.Equal(t, "1", m.BalanceOf("carol").String())
	assert.Equal(t, "110", m.ClaimedProfit("carol").String())

	err = m.TransferFrom(ctx, call("bob"), "alice", "carol", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	last := f.store.commits[len(f.store.commits)-1]
	assert.Contains(t, last.Allowed, "alice")
	assert.Equal(t, "0", last.Allowed["alice"]["bob"].String())
}

func TestRollback_OnStoreFailure(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()
	storeErr := errors.New("disk full")
	f.store.err = storeErr

	before := f.vault.Balance().String()

	_, err := f.market.Buy(ctx, pay("carol", 500), "bob")
	assert.ErrorIs(t, err, storeErr)
	_, err = f.market.Sell(ctx, call("bob"), big.NewInt(3))
	assert.ErrorIs(t, err, storeErr)
	_, err = f.market.Claim(ctx, call("alice"))
	assert.ErrorIs(t, err, storeErr)
	err = f.market.Transfer(ctx, call("bob"), "carol", big.NewInt(1))
	assert.ErrorIs(t, err, storeErr)
	err = f.market.Approve(ctx, call("bob"), "carol", big.NewInt(0), big.NewInt(1))
	assert.ErrorIs(t, err, storeErr)

	m := f.market
	assert.Equal(t, "120", m.Price().String())
	assert.Equal(t, "20", m.IssuedSupply().String())
	assert.Equal(t, "2202", m.ProfitPool().String())
	assert.Equal(t, "110", m.PPT().String())
	assert.Equal(t, "202", m.ClaimedProfit("alice").String())
	assert.Equal(t, "0", m.ClaimedProfit("carol").String())
	assert.Equal(t, "0", m.Earnings("bob").ByReference.String())
	assert.Equal(t, 2, m.OrderCount())
	assert.Equal(t, before, f.vault.Balance().String())
	assert.Equal(t, "0", f.vault.Received("carol").String(), "undone deposit leaves no trace")
	assert.Equal(t, "0", f.vault.Sent("carol").String())
	assert.Equal(t, "0", f.vault.Sent("bob").String(), "undone sell payout leaves no trace")
	assert.Equal(t, "0", f.vault.Sent("alice").String(), "undone claim leaves no trace")
	assert.Equal(t, "18", m.BalanceOf("bob").String())
	assert.Equal(t, "0", m.BalanceOf("carol").String())
	assert.Equal(t, "0", f.token.Allowance("bob", "carol").String())
	assert.Equal(t, "20", f.token.TotalSupply().String())

	f.store.err = nil
	trade, err := m.Buy(ctx, pay("carol", 500), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trade.OrderID, "failed attempts consume no order id")
}

func TestRollback_OnVaultFailure(t *testing.T) {
	f := claimFixture(t)
	ctx := context.Background()
	f.vault.blocked = map[string]bool{"alice": true, "bob": true}

	_, err := f.market.Sell(ctx, call("bob"), big.NewInt(3))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "18", f.market.BalanceOf("bob").String(), "burn is undone")
	assert.Equal(t, "120", f.market.Price().String())

	_, err = f.market.Claim(ctx, call("alice"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "202", f.market.ClaimedProfit("alice").String())

	_, err = f.market.Buy(ctx, pay("carol", 500), "bob")
	assert.ErrorIs(t, err, ErrInsufficientBalance, "commission cannot be paid")
	assert.Equal(t, "0", f.market.BalanceOf("carol").String())
	assert.Equal(t, "0", f.vault.Received("carol").String())
	assert.Equal(t, "0", f.vault.Sent("carol").String())
	assert.Equal(t, "2202", f.vault.Balance().String())
}

func TestEvents(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	var got []events.Event
	bus.SubscribeFunc(events.AllEvents, func(_ context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithEventSink(bus))
	ctx := context.Background()

	_, err := f.market.Buy(ctx, host.Tx{From: "alice", Value: big.NewInt(250), Timestamp: ts}, "")
	require.NoError(t, err)
	_, err = f.market.Sell(ctx, call("alice"), big.NewInt(5))
	require.Error(t, err)
	_, err = f.market.Claim(ctx, call("alice"))
	require.Error(t, err)

	require.Len(t, got, 3)

	buy, ok := got[0].(events.BuyEvent)
	require.True(t, ok)
	assert.True(t, buy.Success())
	assert.Equal(t, ts, buy.Timestamp())
	assert.Equal(t, "alice", buy.Account)
	assert.Equal(t, "250", buy.Value.String())
	assert.Equal(t, "2", buy.Amount.String())
	assert.Equal(t, "250", buy.ProfitPool.String())

	sell, ok := got[1].(events.SellEvent)
	require.True(t, ok)
	assert.False(t, sell.Success())
	assert.Contains(t, sell.Error, "insufficient balance")

	claim, ok := got[2].(events.ClaimEvent)
	require.True(t, ok)
	assert.False(t, claim.Success())
	assert.Equal(t, "0", claim.Value.String())
}

func TestEvents_SinkFailureDoesNotUndo(t *testing.T) {
	sink := events.NewBus(zap.NewNop(), 1)
	defer sink.Shutdown(context.Background())
	sink.SubscribeFunc(events.TradeBuy, func(context.Context, events.Event) error {
		return errors.New("indexer offline")
	})

	f := newFixture(t, WithEventSink(sink))
	_, err := f.market.Buy(context.Background(), pay("alice", 250), "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.market.OrderCount())
}

func TestInvariant_CurvePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	accounts := []string{"alice", "bob", "carol"}

	bought, sold := int64(0), int64(0)
	for i := 0; i < 300; i++ {
		acct := accounts[rng.Intn(len(accounts))]
		balance := f.market.BalanceOf(acct).Int64()

		if balance > 0 && rng.Intn(3) == 0 {
			amount := rng.Int63n(balance) + 1
			_, err := f.market.Sell(ctx, call(acct), big.NewInt(amount))
			require.NoError(t, err)
			sold += amount
		} else {
			trade, err := f.market.Buy(ctx, pay(acct, rng.Int63n(5000)+1), "")
			if errors.Is(err, ErrInsufficientPayment) {
				continue
			}
			require.NoError(t, err)
			bought += trade.Amount.Int64()
		}

		assert.Equal(t, big.NewInt(100+bought-sold).String(), f.market.Price().String())
		assert.Equal(t, big.NewInt(bought).String(), f.market.IssuedSupply().String())
		assert.Equal(t, big.NewInt(bought-sold).String(), f.token.TotalSupply().String())
		assert.True(t, f.vault.Balance().Sign() >= 0)
	}
	assert.Equal(t, f.market.OrderCount(), len(f.store.commits))
}

func TestInvariant_ClaimedNeverExceedsPool(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 4, 5, 11} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			checkClaimedWithinPool(t, seed, 400)
		})
	}
}

func checkClaimedWithinPool(t *testing.T, seed int64, steps int) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))
	accounts := []string{"alice", "bob", "carol", "dave"}

	for i := 0; i < steps; i++ {
		acct := accounts[rng.Intn(len(accounts))]

		switch rng.Intn(4) {
		case 0:
			// an even amount makes (2p + a)·a/2 exact, so the buyer pays
			// precisely the curve cost
			a := 2 * (rng.Int63n(20) + 1)
			p := f.market.Price().Int64()
			cost := (2*p + a) * a / 2
			trade, err := f.market.Buy(ctx, pay(acct, cost), "")
			require.NoError(t, err)
			require.Equal(t, big.NewInt(a).String(), trade.Amount.String())
		case 1:
			_, err := f.market.Claim(ctx, call(acct))
			if err == nil {
				_, err = f.market.Claim(ctx, call(acct))
				assert.ErrorIs(t, err, ErrNothingToClaim)
			} else if !errors.Is(err, ErrNothingToClaim) {
				// payouts after sells may exceed what the vault still holds
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}
		case 2:
			balance := f.market.BalanceOf(acct).Int64()
			if balance == 0 {
				continue
			}
			to := accounts[rng.Intn(len(accounts))]
			require.NoError(t, f.market.Transfer(ctx, call(acct), to, big.NewInt(rng.Int63n(balance)+1)))
		case 3:
			balance := f.market.BalanceOf(acct).Int64()
			if balance == 0 {
				continue
			}
			_, err := f.market.Sell(ctx, call(acct), big.NewInt(rng.Int63n(balance)+1))
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}

		sum := new(big.Int)
		for _, a := range accounts {
			pending, err := f.market.Pending(a)
			require.NoError(t, err)
			assert.True(t, pending.Sign() >= 0)
			sum.Add(sum, f.market.ClaimedProfit(a))
		}
		require.True(t, sum.Cmp(f.market.ProfitPool()) <= 0,
			"step %d: claimed %s exceeds pool %s", i, sum, f.market.ProfitPool())
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ts := time.Unix(1700000000, 0).UTC()

	st := &State{
		Price:        big.NewInt(120),
		Slope:        big.NewInt(1),
		IssuedSupply: big.NewInt(20),
		ProfitPool:   big.NewInt(2202),
		PPT:          big.NewInt(110),
		OrderIndex:   2,
		TotalSupply:  big.NewInt(20),
		ClaimedProfit: map[string]*big.Int{
			"alice": big.NewInt(202),
			"bob":   big.NewInt(1980),
		},
		Earnings: map[string]Earnings{},
		Orders: []Order{
			{ID: 0, Account: "alice", Amount: big.NewInt(2), Value: big.NewInt(202), Timestamp: ts, Type: OrderBuy},
			{ID: 1, Account: "bob", Amount: big.NewInt(18), Value: big.NewInt(2000), Timestamp: ts, Type: OrderBuy},
		},
		Balances: map[string]*big.Int{"alice": big.NewInt(2), "bob": big.NewInt(18)},
		Allowed:  map[string]map[string]*big.Int{},
	}
	require.NoError(t, f.market.Restore(st))

	assert.Equal(t, "120", f.market.Price().String())
	assert.Equal(t, "18", f.market.BalanceOf("bob").String())
	assert.Equal(t, 2, f.market.OrderCount())
	pending, err := f.market.Pending("alice")
	require.NoError(t, err)
	assert.Equal(t, "18", pending.String())

	trade, err := f.market.Buy(context.Background(), pay("carol", 500), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trade.OrderID)
	order, err := f.market.Order(trade.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "carol", order.Account)
	assert.Equal(t, trade.Amount.String(), order.Amount.String())
	assert.Equal(t, "500", order.Value.String())
	assert.Equal(t, 3, f.market.OrderCount())
	assert.Equal(t, uint64(3), f.market.orders.Next())

	bad := *st
	bad.Slope = big.NewInt(2)
	assert.Error(t, f.market.Restore(&bad))

	bad = *st
	bad.OrderIndex = 5
	assert.Error(t, f.market.Restore(&bad))
}

func TestLogsCarryOrderContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tok := ledger.New(ledger.Info{Symbol: "lnb"})
	m, err := New(Config{InitialPrice: big.NewInt(100), Slope: big.NewInt(1)}, tok, host.NewVault(), zap.New(core))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Buy(ctx, pay("alice", 202), "")
	require.NoError(t, err)
	_, err = m.Sell(ctx, call("bob"), big.NewInt(1))
	require.Error(t, err)

	executed := logs.FilterMessage("Buy executed").All()
	require.Len(t, executed, 1)
	fields := executed[0].ContextMap()
	assert.Equal(t, uint64(0), fields["order_id"])
	assert.Equal(t, "buy", fields["order_type"])
	assert.Equal(t, "alice", fields["account"])

	rejected := logs.FilterMessage("Sell rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "bob", rejected[0].ContextMap()["account"])
}
