// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// Market is the façade a script drives.
type Market interface {
	Buy(ctx context.Context, tx host.Tx, referer string) (*market.Trade, error)
	Sell(ctx context.Context, tx host.Tx, amount *big.Int) (*market.Trade, error)
	Claim(ctx context.Context, tx host.Tx) (*big.Int, error)
	Transfer(ctx context.Context, tx host.Tx, to string, amount *big.Int) error
	TransferFrom(ctx context.Context, tx host.Tx, from, to string, amount *big.Int) error
	Approve(ctx context.Context, tx host.Tx, spender string, currentValue, value *big.Int) error
}

// ErrUnexpectedOutcome is returned when a step's result differs from its
// expectation.
var ErrUnexpectedOutcome = errors.New("unexpected step outcome")

// Result is the outcome of one step.
type Result struct {
	Step   Step
	Trade  *market.Trade
	Payout *big.Int
	Err    error
}

// Runner executes scripts step by step against a market.
type Runner struct {
	market Market
	log    *logger.Logger
}

func New(m Market, log *logger.Logger) *Runner {
	return &Runner{market: m, log: log.WithComponent("runner")}
}

// Run executes the steps in order. It stops at the first step whose outcome
// does not match its expectation, or when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, script *Script) ([]Result, error) {
	results := make([]Result, 0, len(script.Steps))

	r.log.Info("Script started", zap.Int("steps", len(script.Steps)))
	for _, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		stepLog := r.log.WithOperation(string(step.Action)).WithAccount(step.Account)
		res := r.execute(ctx, step)
		results = append(results, res)

		if err := check(step, res.Err); err != nil {
			stepLog.LogError("Step failed", err,
				zap.Int("step", step.Index),
				zap.String("name", step.Name))
			return results, fmt.Errorf("step %d (%s): %w", step.Index, step.Name, err)
		}

		stepLog.Debug("Step done",
			zap.Int("step", step.Index),
			zap.String("name", step.Name),
			zap.NamedError("outcome", res.Err))
	}
	r.log.Info("Script finished", zap.Int("steps", len(results)))
	return results, nil
}

func check(step Step, err error) error {
	switch {
	case step.Expect == nil && err != nil:
		return fmt.Errorf("%w: %w", ErrUnexpectedOutcome, err)
	case step.Expect != nil && err == nil:
		return fmt.Errorf("%w: expected %v, got success", ErrUnexpectedOutcome, step.Expect)
	case step.Expect != nil && !errors.Is(err, step.Expect):
		return fmt.Errorf("%w: expected %v, got %w", ErrUnexpectedOutcome, step.Expect, err)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, step Step) Result {
	res := Result{Step: step}
	tx := host.Tx{From: step.Account, Value: numeric.Clone(step.Value)}

	switch step.Action {
	case ActionBuy:
		res.Trade, res.Err = r.market.Buy(ctx, tx, step.Referer)
	case ActionSell:
		res.Trade, res.Err = r.market.Sell(ctx, tx, step.Amount)
	case ActionClaim:
		res.Payout, res.Err = r.market.Claim(ctx, tx)
	case ActionTransfer:
		res.Err = r.market.Transfer(ctx, tx, step.To, step.Amount)
	case ActionTransferFrom:
		res.Err = r.market.TransferFrom(ctx, tx, step.From, step.To, step.Amount)
	case ActionApprove:
		res.Err = r.market.Approve(ctx, tx, step.Spender, step.Current, step.Amount)
	default:
		res.Err = fmt.Errorf("unsupported action: %q", step.Action)
	}
	return res
}
