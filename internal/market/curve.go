// ==============================================
// File: internal/market/curve.go
// ==============================================
package market

import (
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

var two = big.NewInt(2)

// Curve is a linear bonding curve: the marginal price of the next token is
// price, and every token bought or sold moves it by slope.
type Curve struct {
	price *big.Int
	slope *big.Int
}

// Quote is the result of pricing a trade without executing it.
type Quote struct {
	Amount *big.Int
	Value  *big.Int
	Price  *big.Int // marginal price after the trade
}

// NewCurve creates a curve starting at price with the given slope.
func NewCurve(price, slope *big.Int) (*Curve, error) {
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: initial price must be non-negative", ErrInvalidAmount)
	}
	if !numeric.IsPositive(slope) {
		return nil, fmt.Errorf("%w: slope must be positive", ErrInvalidAmount)
	}
	if price.BitLen() > numeric.MaxBits || slope.BitLen() > numeric.MaxBits {
		return nil, fmt.Errorf("%w: %w", ErrArithmeticFault, numeric.ErrOverflow)
	}
	return &Curve{price: numeric.Clone(price), slope: numeric.Clone(slope)}, nil
}

func (c *Curve) Price() *big.Int { return numeric.Clone(c.price) }

func (c *Curve) Slope() *big.Int { return numeric.Clone(c.slope) }

func (c *Curve) clone() *Curve {
	return &Curve{price: numeric.Clone(c.price), slope: numeric.Clone(c.slope)}
}

// AmountForValue returns the largest amount x whose cost (2p + Kx)·x/2 does
// not exceed value. It solves Kx² + 2px − 2v = 0 with an integer square root:
//
//	x = floor((isqrt(4p² + 8Kv) − 2p) / 2K)
//
// The floor of the root cannot move the quotient across an integer boundary,
// so the result is exact.
func (c *Curve) AmountForValue(value *big.Int) (*big.Int, error) {
	if !numeric.IsPositive(value) {
		return nil, fmt.Errorf("%w: value must be positive", ErrInvalidAmount)
	}
	if numeric.IsZero(c.slope) {
		return nil, fmt.Errorf("%w: curve slope is zero", ErrInvalidAmount)
	}

	twoP, err := numeric.Mul(two, c.price)
	if err != nil {
		return nil, arith(err)
	}
	sq, err := numeric.Mul(twoP, twoP)
	if err != nil {
		return nil, arith(err)
	}
	kv, err := numeric.Mul(c.slope, value)
	if err != nil {
		return nil, arith(err)
	}
	kv8, err := numeric.Mul(big.NewInt(8), kv)
	if err != nil {
		return nil, arith(err)
	}
	disc, err := numeric.Add(sq, kv8)
	if err != nil {
		return nil, arith(err)
	}
	root, err := numeric.Sqrt(disc)
	if err != nil {
		return nil, arith(err)
	}
	num, err := numeric.Sub(root, twoP)
	if err != nil {
		return nil, arith(err)
	}
	den, err := numeric.Mul(two, c.slope)
	if err != nil {
		return nil, arith(err)
	}
	amount, err := numeric.Div(num, den)
	return amount, arith(err)
}

// CostOf returns (2p + K·amount)·amount/2, the truncated price of buying
// amount tokens from the current position.
func (c *Curve) CostOf(amount *big.Int) (*big.Int, error) {
	if !numeric.IsPositive(amount) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	ka, err := numeric.Mul(c.slope, amount)
	if err != nil {
		return nil, arith(err)
	}
	twoP, err := numeric.Mul(two, c.price)
	if err != nil {
		return nil, arith(err)
	}
	sum, err := numeric.Add(twoP, ka)
	if err != nil {
		return nil, arith(err)
	}
	cost, err := numeric.MulDiv(sum, amount, two)
	return cost, arith(err)
}

// ValueForAmount returns (p + (p − K·amount))·amount/2, the area under the
// curve between the current price and the price after selling amount.
func (c *Curve) ValueForAmount(amount *big.Int) (*big.Int, error) {
	if !numeric.IsPositive(amount) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	ka, err := numeric.Mul(c.slope, amount)
	if err != nil {
		return nil, arith(err)
	}
	if ka.Cmp(c.price) > 0 {
		return nil, fmt.Errorf("%w: selling %s moves price %s by %s", ErrCurveUnderflow, amount, c.price, ka)
	}
	after, err := numeric.Sub(c.price, ka)
	if err != nil {
		return nil, arith(err)
	}
	sum, err := numeric.Add(c.price, after)
	if err != nil {
		return nil, arith(err)
	}
	value, err := numeric.MulDiv(sum, amount, two)
	if err != nil {
		return nil, arith(err)
	}
	if value.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s tokens are worth nothing at price %s", ErrInvalidAmount, amount, c.price)
	}
	return value, nil
}

// ApplyBuy moves the price up by K·amount.
func (c *Curve) ApplyBuy(amount *big.Int) error {
	if !numeric.IsPositive(amount) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	ka, err := numeric.Mul(c.slope, amount)
	if err != nil {
		return arith(err)
	}
	price, err := numeric.Add(c.price, ka)
	if err != nil {
		return arith(err)
	}
	c.price = price
	return nil
}

// ApplySell moves the price down by K·amount. The price never goes below zero.
func (c *Curve) ApplySell(amount *big.Int) error {
	if !numeric.IsPositive(amount) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	ka, err := numeric.Mul(c.slope, amount)
	if err != nil {
		return arith(err)
	}
	if ka.Cmp(c.price) > 0 {
		return fmt.Errorf("%w: price %s, decrease %s", ErrCurveUnderflow, c.price, ka)
	}
	c.price = new(big.Int).Sub(c.price, ka)
	return nil
}

// QuoteBuy prices a buy of value without moving the curve.
func (c *Curve) QuoteBuy(value *big.Int) (*Quote, error) {
	amount, err := c.AmountForValue(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s buys no tokens at price %s", ErrInsufficientPayment, value, c.price)
	}
	cost, err := c.CostOf(amount)
	if err != nil {
		return nil, err
	}
	next := c.clone()
	if err := next.ApplyBuy(amount); err != nil {
		return nil, err
	}
	return &Quote{Amount: amount, Value: cost, Price: next.price}, nil
}

// QuoteSell prices a sell of amount without moving the curve.
func (c *Curve) QuoteSell(amount *big.Int) (*Quote, error) {
	value, err := c.ValueForAmount(amount)
	if err != nil {
		return nil, err
	}
	next := c.clone()
	if err := next.ApplySell(amount); err != nil {
		return nil, err
	}
	return &Quote{Amount: numeric.Clone(amount), Value: value, Price: next.price}, nil
}
