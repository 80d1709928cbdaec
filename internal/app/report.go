// internal/app/report.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/monitor"
	"github.com/rovshanmuradov/nebula-market/internal/storage/models"
	"github.com/rovshanmuradov/nebula-market/internal/storage/sqlstore"
)

// Report summarises the market once a script is done.
type Report struct {
	Orders            int
	Holders           int
	Price             string
	ProfitPool        string
	EarnedByShare     string
	EarnedByReference string

	History monitor.TradeStatistics
	Recent  []monitor.Trade
	// Accounts maps script aliases to their position
	Accounts map[string]AccountReport

	// SQL mirror; zero when no database is configured
	IndexedOrders int
	LastIndexed   *models.Order
	LastSnapshot  *models.Snapshot
	Rejections    []*models.Rejection
}

type AccountReport struct {
	Address string
	Balance string
	Orders  int
	Trades  int
}

// Report collects market, history and database figures. accounts maps display
// names to addresses.
func (a *App) Report(ctx context.Context, accounts map[string]string, recent int) (*Report, error) {
	total := a.Market.TotalEarnings()
	r := &Report{
		Orders:            a.Market.OrderCount(),
		Holders:           a.Market.Holders(),
		Price:             a.Market.Price().String(),
		ProfitPool:        a.Market.ProfitPool().String(),
		EarnedByShare:     total.ByShare.String(),
		EarnedByReference: total.ByReference.String(),
		History:           a.History.GetStatistics(),
		Recent:            a.History.GetRecentTrades(recent),
		Accounts:          make(map[string]AccountReport, len(accounts)),
	}
	for alias, addr := range accounts {
		r.Accounts[alias] = AccountReport{
			Address: addr,
			Balance: a.Market.BalanceOf(addr).String(),
			Orders:  len(a.Market.OrdersOf(addr)),
			Trades:  len(a.History.GetTradesByAccount(addr)),
		}
	}

	if a.db == nil {
		return r, nil
	}

	orders, err := a.db.ListOrders(ctx, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed orders: %w", err)
	}
	r.IndexedOrders = len(orders)

	if r.Orders > 0 {
		last := uint64(r.Orders - 1)
		r.LastIndexed, err = a.db.GetOrder(ctx, last)
		if err != nil && !errors.Is(err, sqlstore.ErrNotFound) {
			return nil, err
		}
	}
	r.LastSnapshot, err = a.db.LatestSnapshot(ctx)
	if err != nil && !errors.Is(err, sqlstore.ErrNotFound) {
		return nil, err
	}
	r.Rejections, err = a.db.ListRejections(ctx, "", recent)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejections: %w", err)
	}
	return r, nil
}

func (a *App) logReport(r *Report) {
	a.log.WithComponent("report").Info("Session summary",
		zap.Int("orders", r.Orders),
		zap.Int("indexed_orders", r.IndexedOrders),
		zap.Int("holders", r.Holders),
		zap.String("price", r.Price),
		zap.String("profit_pool", r.ProfitPool),
		zap.String("earned_by_share", r.EarnedByShare),
		zap.String("earned_by_reference", r.EarnedByReference),
		zap.Int("history_trades", r.History.TotalTrades),
		zap.Float64("success_rate", r.History.SuccessRate),
		zap.Int("rejections", len(r.Rejections)))

	aliases := make([]string, 0, len(r.Accounts))
	for alias := range r.Accounts {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		acct := r.Accounts[alias]
		a.log.WithAccount(acct.Address).Info("Account summary",
			zap.String("alias", alias),
			zap.String("balance", acct.Balance),
			zap.Int("orders", acct.Orders),
			zap.Int("trades", acct.Trades))
	}
	if r.LastSnapshot != nil {
		a.log.WithOrder(r.LastSnapshot.OrderID, "snapshot").Debug("Latest indexed snapshot",
			zap.String("price", r.LastSnapshot.Price),
			zap.String("issued_supply", r.LastSnapshot.IssuedSupply))
	}
}
