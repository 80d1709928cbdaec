package monitor

import (
	"math/big"
	"strconv"
	"time"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// Trade is one line of the history: a market operation and its outcome.
// Token amounts are formatted with the token decimals, native values are
// base units.
type Trade struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Account      string    `json:"account"`
	Action       string    `json:"action"` // buy, sell, claim, transfer, approve
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Value        string    `json:"value,omitempty"`
	Price        string    `json:"price,omitempty"`
	Success      bool      `json:"success"`
	ErrorMsg     string    `json:"error_msg,omitempty"`
}

// TradeFromEvent converts a market event into a history line.
func TradeFromEvent(e events.Event, decimals int32) (Trade, bool) {
	t := Trade{
		Timestamp: e.Timestamp(),
		Account:   events.Account(e),
		Success:   e.Success(),
		ErrorMsg:  e.Failure(),
	}

	switch ev := e.(type) {
	case events.BuyEvent:
		t.Action = "buy"
		t.Counterparty = ev.Referer
		t.Amount = units(ev.Amount, decimals)
		t.Value = baseUnits(ev.Value)
		t.Price = baseUnits(ev.Price)
		if ev.Success() {
			t.ID = strconv.FormatUint(ev.OrderID, 10)
		}
	case events.SellEvent:
		t.Action = "sell"
		t.Amount = units(ev.Amount, decimals)
		t.Value = baseUnits(ev.Value)
		t.Price = baseUnits(ev.Price)
		if ev.Success() {
			t.ID = strconv.FormatUint(ev.OrderID, 10)
		}
	case events.ClaimEvent:
		t.Action = "claim"
		t.Value = baseUnits(ev.Value)
	case events.TransferEvent:
		t.Action = "transfer"
		t.Counterparty = ev.To
		t.Amount = units(ev.Value, decimals)
	case events.ApproveEvent:
		t.Action = "approve"
		t.Counterparty = ev.Spender
		t.Amount = units(ev.Value, decimals)
	default:
		return Trade{}, false
	}
	return t, true
}

func units(x *big.Int, decimals int32) string {
	if x == nil {
		return ""
	}
	return numeric.FormatUnits(x, decimals)
}

// baseUnits renders a native value; a missing value stays empty.
func baseUnits(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

// ToCSV converts trade to CSV record
func (t *Trade) ToCSV() []string {
	return []string{
		t.ID,
		t.Timestamp.Format(time.RFC3339Nano),
		t.Account,
		t.Action,
		t.Counterparty,
		t.Amount,
		t.Value,
		t.Price,
		strconv.FormatBool(t.Success),
		t.ErrorMsg,
	}
}

// CSVHeaders returns the header row for trade CSV files
func CSVHeaders() []string {
	return []string{
		"id",
		"timestamp",
		"account",
		"action",
		"counterparty",
		"amount",
		"value",
		"price",
		"success",
		"error_msg",
	}
}
