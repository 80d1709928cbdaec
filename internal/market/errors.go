package market

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/ledger"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCurveUnderflow      = errors.New("curve underflow")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrNotFound            = errors.New("not found")
	ErrArithmeticFault     = errors.New("arithmetic fault")
)

// arith maps bounded-arithmetic failures onto ErrArithmeticFault while keeping
// the cause reachable through errors.Is.
func arith(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, numeric.ErrOverflow) || errors.Is(err, numeric.ErrDivisionByZero) ||
		errors.Is(err, numeric.ErrNegativeSqrt) {
		return fmt.Errorf("%w: %w", ErrArithmeticFault, err)
	}
	return err
}

// classify translates collaborator errors into the market taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, host.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	case errors.Is(err, ledger.ErrInvalidValue),
		errors.Is(err, ledger.ErrAllowanceMismatch):
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	case errors.Is(err, ledger.ErrInvalidAddress):
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	return arith(err)
}
