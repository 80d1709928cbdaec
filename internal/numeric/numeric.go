// internal/numeric/numeric.go
// Package numeric provides the bounded integer arithmetic used by the market.
//
// Every value that crosses a market operation is a *big.Int limited to MaxBits
// bits. Results wider than that are reported as ErrOverflow so that replays on
// different machines fail identically instead of silently diverging.
package numeric

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxBits is the widest magnitude any stored quantity may have.
const MaxBits = 256

var (
	ErrOverflow       = errors.New("integer overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNegativeSqrt   = errors.New("square root of negative number")
	ErrMalformed      = errors.New("malformed number")
)

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// New returns x as a *big.Int.
func New(x int64) *big.Int { return big.NewInt(x) }

// Clone returns a copy of x; nil is treated as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive reports whether x is non-nil and strictly greater than zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

func check(z *big.Int) (*big.Int, error) {
	if z.BitLen() > MaxBits {
		return nil, fmt.Errorf("%w: result exceeds %d bits", ErrOverflow, MaxBits)
	}
	return z, nil
}

// Add returns a+b.
func Add(a, b *big.Int) (*big.Int, error) {
	return check(new(big.Int).Add(Clone(a), Clone(b)))
}

// Sub returns a-b. The result may be negative.
func Sub(a, b *big.Int) (*big.Int, error) {
	return check(new(big.Int).Sub(Clone(a), Clone(b)))
}

// Mul returns a*b.
func Mul(a, b *big.Int) (*big.Int, error) {
	return check(new(big.Int).Mul(Clone(a), Clone(b)))
}

// Div returns a/b truncated toward zero.
func Div(a, b *big.Int) (*big.Int, error) {
	if IsZero(b) {
		return nil, ErrDivisionByZero
	}
	return check(new(big.Int).Quo(Clone(a), b))
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *big.Int) (*big.Int, error) {
	if x == nil {
		return new(big.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegativeSqrt
	}
	return new(big.Int).Sqrt(x), nil
}

// MulDiv returns a*b/c with the intermediate product checked for overflow.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	p, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return Div(p, c)
}

// Parse reads a base-10 integer. Leading and trailing spaces are ignored.
func Parse(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformed)
	}
	z, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return check(z)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *big.Int {
	z, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return z
}

// String renders x as a base-10 string; nil renders as "0".
func String(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// ParseUnits converts a human amount such as "0.0001" into base units with
// the given number of decimals. Amounts finer than one base unit are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrMalformed, s, decimals)
	}
	return check(shifted.BigInt())
}

// FormatUnits renders base units as a human amount with the given decimals.
func FormatUnits(x *big.Int, decimals int32) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -decimals).String()
}

// Float64 is a lossy conversion used only for metrics and display.
func Float64(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
