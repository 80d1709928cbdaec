// internal/runner/script.go
package runner

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// Action is a market operation a script step performs.
type Action string

const (
	ActionBuy          Action = "buy"
	ActionSell         Action = "sell"
	ActionClaim        Action = "claim"
	ActionTransfer     Action = "transfer"
	ActionTransferFrom Action = "transfer_from"
	ActionApprove      Action = "approve"
)

// expectations maps the names usable in a step's expect field to errors.
var expectations = map[string]error{
	"invalid_amount":       market.ErrInvalidAmount,
	"invalid_account":      market.ErrInvalidAccount,
	"insufficient_payment": market.ErrInsufficientPayment,
	"insufficient_balance": market.ErrInsufficientBalance,
	"curve_underflow":      market.ErrCurveUnderflow,
	"nothing_to_claim":     market.ErrNothingToClaim,
	"arithmetic_fault":     market.ErrArithmeticFault,
}

// newAccount in the accounts section gives an alias a fresh random address.
const newAccount = "new"

// scriptFile is the YAML layout.
//
//	accounts:
//	  alice: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
//	  bob: new
//	steps:
//	  - action: buy
//	    account: alice
//	    value: "202"
//	    referer: bob
type scriptFile struct {
	Accounts map[string]string `yaml:"accounts"`
	Steps    []struct {
		Name    string `yaml:"name"`
		Action  string `yaml:"action"`
		Account string `yaml:"account"`
		Value   string `yaml:"value"`   // native base units
		Amount  string `yaml:"amount"`  // token amount, may have decimals
		Current string `yaml:"current"` // approve: expected current allowance
		From    string `yaml:"from"`
		To      string `yaml:"to"`
		Spender string `yaml:"spender"`
		Referer string `yaml:"referer"`
		Expect  string `yaml:"expect"`
	} `yaml:"steps"`
}

// Step is a validated script step with resolved addresses and amounts.
type Step struct {
	Index   int
	Name    string
	Action  Action
	Account string
	Value   *big.Int
	Amount  *big.Int
	Current *big.Int
	From    string
	To      string
	Spender string
	Referer string
	Expect  error // nil when the step must succeed
}

// Script is a loaded session.
type Script struct {
	Accounts map[string]string
	Steps    []Step
}

// LoadScript reads a YAML script. Token amounts are converted with decimals.
func LoadScript(path string, decimals int32, logger *zap.Logger) (*Script, error) {
	if filepath.IsAbs(path) {
		logger.Debug("Using absolute path for script file", zap.String("path", path))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseScript(data, decimals)
}

// ParseScript validates every step up front; a script with one bad step is
// rejected as a whole.
func ParseScript(data []byte, decimals int32) (*Script, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Steps) == 0 {
		return nil, errors.New("no steps found in script")
	}

	accounts := make(map[string]string, len(file.Accounts))
	for alias, addr := range file.Accounts {
		if addr == newAccount {
			accounts[alias] = host.NewAddress()
			continue
		}
		parsed, err := host.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", alias, err)
		}
		accounts[alias] = parsed
	}
	resolve := func(ref string) (string, error) {
		if ref == "" {
			return "", nil
		}
		if addr, ok := accounts[ref]; ok {
			return addr, nil
		}
		return host.ParseAddress(ref)
	}

	script := &Script{Accounts: accounts, Steps: make([]Step, 0, len(file.Steps))}
	for i, raw := range file.Steps {
		step := Step{Index: i, Name: raw.Name, Action: Action(raw.Action)}
		if step.Name == "" {
			step.Name = fmt.Sprintf("%s#%d", raw.Action, i)
		}
		fail := func(err error) (*Script, error) {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}

		var err error
		if step.Account, err = resolve(raw.Account); err != nil {
			return fail(err)
		}
		if step.Account == "" {
			return fail(errors.New("account is required"))
		}
		if step.From, err = resolve(raw.From); err != nil {
			return fail(err)
		}
		if step.To, err = resolve(raw.To); err != nil {
			return fail(err)
		}
		if step.Spender, err = resolve(raw.Spender); err != nil {
			return fail(err)
		}
		if step.Referer, err = resolve(raw.Referer); err != nil {
			return fail(err)
		}

		if raw.Expect != "" {
			expected, ok := expectations[raw.Expect]
			if !ok {
				return fail(fmt.Errorf("unknown expectation %q", raw.Expect))
			}
			step.Expect = expected
		}

		switch step.Action {
		case ActionBuy:
			if step.Value, err = numeric.Parse(raw.Value); err != nil {
				return fail(fmt.Errorf("value: %w", err))
			}
		case ActionSell:
			if step.Amount, err = numeric.ParseUnits(raw.Amount, decimals); err != nil {
				return fail(fmt.Errorf("amount: %w", err))
			}
		case ActionClaim:
		case ActionTransfer, ActionTransferFrom:
			if step.Amount, err = numeric.ParseUnits(raw.Amount, decimals); err != nil {
				return fail(fmt.Errorf("amount: %w", err))
			}
			if step.To == "" {
				return fail(errors.New("to is required"))
			}
			if step.Action == ActionTransferFrom && step.From == "" {
				return fail(errors.New("from is required"))
			}
		case ActionApprove:
			if step.Amount, err = numeric.ParseUnits(raw.Amount, decimals); err != nil {
				return fail(fmt.Errorf("amount: %w", err))
			}
			current := raw.Current
			if current == "" {
				current = "0"
			}
			if step.Current, err = numeric.ParseUnits(current, decimals); err != nil {
				return fail(fmt.Errorf("current: %w", err))
			}
			if step.Spender == "" {
				return fail(errors.New("spender is required"))
			}
		default:
			return fail(fmt.Errorf("unsupported action: %q", raw.Action))
		}

		script.Steps = append(script.Steps, step)
	}
	return script, nil
}
