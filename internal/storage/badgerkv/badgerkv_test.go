package badgerkv

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/ledger"
	"github.com/rovshanmuradov/nebula-market/internal/market"
)

var testConfig = market.Config{
	InitialPrice:   big.NewInt(100),
	Slope:          big.NewInt(1),
	ReferralCutBps: 500,
}

func newMarket(t *testing.T, opts ...market.Option) (*market.Market, *ledger.Token, *host.Vault) {
	t.Helper()
	tok := ledger.New(ledger.Info{Name: "lost in nebulas", Symbol: "lnb"})
	vault := host.NewVault()
	m, err := market.New(testConfig, tok, vault, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return m, tok, vault
}

func TestLoad_Empty(t *testing.T) {
	s, err := Open("", true, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	st, found, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, st)
}

func TestReloadReproducesMarket(t *testing.T) {
	s, err := Open(t.TempDir(), false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	tx := func(from string, value int64) host.Tx {
		ts = ts.Add(time.Second)
		return host.Tx{From: from, Value: big.NewInt(value), Timestamp: ts}
	}

	m1, _, vault1 := newMarket(t, market.WithStore(s))
	_, err = m1.Buy(ctx, tx("alice", 202), "")
	require.NoError(t, err)
	_, err = m1.Buy(ctx, tx("bob", 2000), "carol")
	require.NoError(t, err)
	_, err = m1.Claim(ctx, tx("alice", 0))
	require.NoError(t, err)
	require.NoError(t, m1.Transfer(ctx, tx("bob", 0), "dave", big.NewInt(3)))
	require.NoError(t, m1.Approve(ctx, tx("bob", 0), "dave", big.NewInt(0), big.NewInt(5)))
	_, err = m1.Sell(ctx, tx("alice", 0), big.NewInt(2))
	require.NoError(t, err)

	st, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(3), st.OrderIndex)
	assert.NotContains(t, st.Balances, "alice", "zero balances are removed")

	assert.Equal(t, vault1.Balance().String(), st.Reserve().String())

	m2, tok2, _ := newMarket(t)
	require.NoError(t, m2.Restore(st))

	assert.Equal(t, m1.Price().String(), m2.Price().String())
	assert.Equal(t, m1.IssuedSupply().String(), m2.IssuedSupply().String())
	assert.Equal(t, m1.ProfitPool().String(), m2.ProfitPool().String())
	assert.Equal(t, m1.PPT().String(), m2.PPT().String())
	assert.Equal(t, "18", tok2.TotalSupply().String())
	assert.Equal(t, "5", tok2.Allowance("bob", "dave").String())

	for _, acct := range []string{"alice", "bob", "carol", "dave"} {
		assert.Equal(t, m1.BalanceOf(acct).String(), m2.BalanceOf(acct).String(), acct)
		assert.Equal(t, m1.ClaimedProfit(acct).String(), m2.ClaimedProfit(acct).String(), acct)

		p1, err := m1.Pending(acct)
		require.NoError(t, err)
		p2, err := m2.Pending(acct)
		require.NoError(t, err)
		assert.Equal(t, p1.String(), p2.String(), acct)

		e1, e2 := m1.Earnings(acct), m2.Earnings(acct)
		assert.Equal(t, e1.ByShare.String(), e2.ByShare.String(), acct)
		assert.Equal(t, e1.ByReference.String(), e2.ByReference.String(), acct)
	}

	require.Equal(t, m1.OrderCount(), m2.OrderCount())
	for i, o1 := range m1.Orders(0, 0) {
		o2, err := m2.Order(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, o1.Account, o2.Account)
		assert.Equal(t, o1.Type, o2.Type)
		assert.Equal(t, o1.Amount.String(), o2.Amount.String())
		assert.Equal(t, o1.Value.String(), o2.Value.String())
		assert.True(t, o1.Timestamp.Equal(o2.Timestamp))
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s, err := Open("", true, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Commit(ctx, &market.Changeset{Price: big.NewInt(1), Slope: big.NewInt(1)})
	require.Error(t, err)

	_, found, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}
