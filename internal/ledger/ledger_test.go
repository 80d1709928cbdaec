package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestToken() *Token {
	return New(Info{Name: "lost in nebulas", Symbol: "lnb", Decimals: 0})
}

func TestMintBurnTransfer(t *testing.T) {
	tok := newTestToken()

	require.NoError(t, tok.Mint("alice", big.NewInt(100)))
	require.NoError(t, tok.Transfer("alice", "bob", big.NewInt(40)))
	require.NoError(t, tok.Burn("bob", big.NewInt(10)))

	assert.Equal(t, "60", tok.BalanceOf("alice").String())
	assert.Equal(t, "30", tok.BalanceOf("bob").String())
	assert.Equal(t, "90", tok.TotalSupply().String())
	assert.Equal(t, 2, tok.Holders())

	err := tok.Transfer("bob", "alice", big.NewInt(31))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "30", tok.BalanceOf("bob").String())

	assert.ErrorIs(t, tok.Burn("carol", big.NewInt(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, tok.Transfer("alice", "", big.NewInt(1)), ErrInvalidAddress)
	assert.ErrorIs(t, tok.Mint("alice", big.NewInt(-1)), ErrInvalidValue)
}

func TestApproveRequiresCurrentValue(t *testing.T) {
	tok := newTestToken()
	require.NoError(t, tok.Mint("alice", big.NewInt(50)))

	require.NoError(t, tok.Approve("alice", "bob", big.NewInt(0), big.NewInt(20)))
	assert.Equal(t, "20", tok.Allowance("alice", "bob").String())

	err := tok.Approve("alice", "bob", big.NewInt(0), big.NewInt(30))
	assert.ErrorIs(t, err, ErrAllowanceMismatch)

	err = tok.Approve("alice", "bob", big.NewInt(20), big.NewInt(51))
	assert.ErrorIs(t, err, ErrInvalidValue, "allowance may not exceed balance")

	require.NoError(t, tok.Approve("alice", "bob", big.NewInt(20), big.NewInt(30)))
	assert.Equal(t, map[string]*big.Int{"bob": big.NewInt(30)}, tok.Allowances("alice"))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok := newTestToken()
	require.NoError(t, tok.Mint("alice", big.NewInt(50)))
	require.NoError(t, tok.Approve("alice", "bob", big.NewInt(0), big.NewInt(20)))

	require.NoError(t, tok.TransferFrom("bob", "alice", "carol", big.NewInt(15)))
	assert.Equal(t, "5", tok.Allowance("alice", "bob").String())
	assert.Equal(t, "15", tok.BalanceOf("carol").String())

	err := tok.TransferFrom("bob", "alice", "carol", big.NewInt(6))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, "35", tok.BalanceOf("alice").String())
}

func TestRestore(t *testing.T) {
	tok := newTestToken()
	tok.Restore(big.NewInt(70),
		map[string]*big.Int{"alice": big.NewInt(70), "ghost": big.NewInt(0)},
		map[string]map[string]*big.Int{"alice": {"bob": big.NewInt(3)}})

	assert.Equal(t, "70", tok.TotalSupply().String())
	assert.Equal(t, "70", tok.BalanceOf("alice").String())
	assert.Equal(t, 1, tok.Holders(), "zero balances are not kept")
	assert.Equal(t, "3", tok.Allowance("alice", "bob").String())
}

func TestRestoreAllowance(t *testing.T) {
	tok := newTestToken()
	require.NoError(t, tok.Mint("alice", big.NewInt(10)))
	require.NoError(t, tok.Approve("alice", "bob", big.NewInt(0), big.NewInt(10)))
	require.NoError(t, tok.Transfer("alice", "carol", big.NewInt(8)))

	tok.RestoreAllowance("alice", "bob", big.NewInt(4))
	assert.Equal(t, "4", tok.Allowance("alice", "bob").String())

	tok.RestoreAllowance("alice", "bob", nil)
	assert.Equal(t, "0", tok.Allowance("alice", "bob").String())
}
