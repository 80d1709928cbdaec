package events

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// envelope is the wire form of an event. Amounts are decimal strings so that
// consumers never round them through floating point.
type envelope struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Status    bool              `json:"status"`
	Error     string            `json:"error,omitempty"`
	Data      map[string]string `json:"data"`
}

func dec(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// Encode renders an event as JSON.
func Encode(e Event) ([]byte, error) {
	env := envelope{
		Type:      e.Type(),
		Timestamp: e.Timestamp(),
		Status:    e.Success(),
		Error:     e.Failure(),
	}

	switch ev := e.(type) {
	case BuyEvent:
		env.Data = map[string]string{
			"account":      ev.Account,
			"value":        dec(ev.Value),
			"amount":       dec(ev.Amount),
			"orderId":      fmt.Sprint(ev.OrderID),
			"price":        dec(ev.Price),
			"profitPool":   dec(ev.ProfitPool),
			"issuedSupply": dec(ev.IssuedSupply),
			"referer":      ev.Referer,
			"commission":   dec(ev.Commission),
		}
	case SellEvent:
		env.Data = map[string]string{
			"account":      ev.Account,
			"amount":       dec(ev.Amount),
			"value":        dec(ev.Value),
			"orderId":      fmt.Sprint(ev.OrderID),
			"price":        dec(ev.Price),
			"profitPool":   dec(ev.ProfitPool),
			"issuedSupply": dec(ev.IssuedSupply),
		}
	case ClaimEvent:
		env.Data = map[string]string{
			"account": ev.Account,
			"value":   dec(ev.Value),
		}
	case TransferEvent:
		env.Data = map[string]string{
			"spender": ev.Spender,
			"from":    ev.From,
			"to":      ev.To,
			"value":   dec(ev.Value),
		}
	case ApproveEvent:
		env.Data = map[string]string{
			"owner":   ev.Owner,
			"spender": ev.Spender,
			"value":   dec(ev.Value),
		}
	default:
		return nil, fmt.Errorf("unsupported event %T", e)
	}

	return json.Marshal(env)
}
