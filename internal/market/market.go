// ==============================================
// File: internal/market/market.go
// ==============================================
package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/ledger"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// maxBps is 100% in basis points.
const maxBps = 10000

// Ledger is the token book the market mints into and burns from.
type Ledger interface {
	Info() ledger.Info
	TotalSupply() *big.Int
	Holders() int
	BalanceOf(owner string) *big.Int
	Allowance(owner, spender string) *big.Int
	Allowances(owner string) map[string]*big.Int
	Transfer(from, to string, value *big.Int) error
	TransferFrom(spender, from, to string, value *big.Int) error
	Approve(owner, spender string, currentValue, value *big.Int) error
	RestoreAllowance(owner, spender string, value *big.Int)
	Mint(to string, value *big.Int) error
	Burn(from string, value *big.Int) error
}

// Vault holds the payment currency collected by the market. The Revert
// methods undo an unsettled Deposit or Withdraw without counting it as a
// payment in the other direction.
type Vault interface {
	Deposit(from string, value *big.Int) error
	Withdraw(to string, value *big.Int) error
	RevertDeposit(from string, value *big.Int) error
	RevertWithdraw(to string, value *big.Int) error
}

// Store persists the writes of one operation atomically.
type Store interface {
	Commit(ctx context.Context, cs *Changeset) error
}

// EventSink receives an event for every operation attempt.
type EventSink interface {
	PublishSync(ctx context.Context, event events.Event) error
}

type ledgerRestorer interface {
	Restore(totalSupply *big.Int, balances map[string]*big.Int, allowed map[string]map[string]*big.Int)
}

// Config fixes the curve at deployment.
type Config struct {
	InitialPrice   *big.Int
	Slope          *big.Int
	ReferralCutBps uint32
}

type Option func(*Market)

func WithStore(s Store) Option {
	return func(m *Market) { m.store = s }
}

func WithEventSink(s EventSink) Option {
	return func(m *Market) { m.sink = s }
}

func WithClock(c host.Clock) Option {
	return func(m *Market) { m.clock = c }
}

// Trade is the outcome of a successful buy or sell.
type Trade struct {
	OrderID    uint64
	Type       OrderType
	Account    string
	Amount     *big.Int
	Value      *big.Int
	Price      *big.Int // marginal price after the trade
	Referer    string
	Commission *big.Int
}

// Market is the bonding-curve token market. Every public operation runs under
// one lock and either applies completely or leaves no trace.
//
// Events are published while the lock is held, so event handlers must not
// call back into the Market.
type Market struct {
	mu sync.Mutex

	cfg    Config
	ledger Ledger
	vault  Vault
	curve  *Curve
	dist   *Distributor
	orders *OrderLedger

	store  Store
	sink   EventSink
	clock  host.Clock
	logger *zap.Logger
	log    *logger.Logger
}

// New creates a market over the given token ledger and vault.
func New(cfg Config, tokens Ledger, vault Vault, zapLogger *zap.Logger, opts ...Option) (*Market, error) {
	if tokens == nil || vault == nil {
		return nil, errors.New("market requires a ledger and a vault")
	}
	if cfg.ReferralCutBps > maxBps {
		return nil, fmt.Errorf("%w: referral cut of %d bps exceeds 100%%", ErrInvalidAmount, cfg.ReferralCutBps)
	}
	curve, err := NewCurve(cfg.InitialPrice, cfg.Slope)
	if err != nil {
		return nil, fmt.Errorf("invalid curve: %w", err)
	}

	m := &Market{
		cfg:    cfg,
		ledger: tokens,
		vault:  vault,
		curve:  curve,
		dist:   NewDistributor(),
		orders: NewOrderLedger(),
		clock:  host.NewMonotonicClock(nil),
		logger: zapLogger.Named("market"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.Wrap(m.logger)
	return m, nil
}

// Buy spends tx.Value on tokens for tx.From. When referer is set and is not
// the buyer, it receives ReferralCutBps of the payment out of the vault; the
// profit pool still records the whole payment.
func (m *Market) Buy(ctx context.Context, tx host.Tx, referer string) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	trade, err := m.buy(ctx, tx, referer)

	ev := events.BuyEvent{
		BaseEvent: baseEvent(events.TradeBuy, tx.Timestamp, err),
		Account:   tx.From,
		Value:     numeric.Clone(tx.Value),
		Referer:   referer,
	}
	if err != nil {
		m.log.WithAccount(tx.From).Warn("Buy rejected",
			zap.String("value", numeric.String(tx.Value)),
			zap.Error(err))
		m.emit(ctx, ev)
		return nil, err
	}

	ev.Amount = trade.Amount
	ev.OrderID = trade.OrderID
	ev.Price = trade.Price
	ev.ProfitPool = m.dist.ProfitPool()
	ev.IssuedSupply = m.dist.IssuedSupply()
	ev.Commission = trade.Commission
	m.log.WithOrder(trade.OrderID, string(OrderBuy)).WithAccount(tx.From).Info("Buy executed",
		zap.String("value", trade.Value.String()),
		zap.String("amount", trade.Amount.String()),
		zap.String("price", trade.Price.String()))
	m.emit(ctx, ev)
	return trade, nil
}

func (m *Market) buy(ctx context.Context, tx host.Tx, referer string) (*Trade, error) {
	if tx.From == "" {
		return nil, ErrInvalidAccount
	}
	if !numeric.IsPositive(tx.Value) {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	curve := m.curve.clone()
	dist := m.dist.Fork()
	value := numeric.Clone(tx.Value)

	amount, err := curve.AmountForValue(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s buys no tokens at price %s", ErrInsufficientPayment, value, curve.price)
	}

	if err := dist.Issue(amount); err != nil {
		return nil, err
	}
	if err := dist.RecordRevenue(value); err != nil {
		return nil, err
	}
	if err := dist.Accrue(tx.From, amount); err != nil {
		return nil, err
	}
	if err := curve.ApplyBuy(amount); err != nil {
		return nil, err
	}

	commission, err := m.commission(tx.From, referer, value)
	if err != nil {
		return nil, err
	}
	if commission.Sign() > 0 {
		if err := dist.RecordReferral(referer, commission); err != nil {
			return nil, err
		}
	}

	order := Order{
		ID:        m.orders.Next(),
		Account:   tx.From,
		Amount:    amount,
		Value:     value,
		Timestamp: tx.Timestamp,
		Type:      OrderBuy,
	}

	j := newJournal(m.logger)
	if err := m.vault.Deposit(tx.From, value); err != nil {
		return nil, classify(err)
	}
	j.record("vault.deposit", func() error { return m.vault.RevertDeposit(tx.From, value) })

	if err := m.ledger.Mint(tx.From, amount); err != nil {
		j.rollback()
		return nil, classify(err)
	}
	j.record("ledger.mint", func() error { return m.ledger.Burn(tx.From, amount) })

	if commission.Sign() > 0 {
		if err := m.vault.Withdraw(referer, commission); err != nil {
			j.rollback()
			return nil, classify(err)
		}
		j.record("vault.commission", func() error { return m.vault.RevertWithdraw(referer, commission) })
	}

	if err := m.commit(ctx, j, curve, dist, &order, []string{tx.From}, nil); err != nil {
		return nil, err
	}

	return &Trade{
		OrderID:    order.ID,
		Type:       OrderBuy,
		Account:    tx.From,
		Amount:     numeric.Clone(amount),
		Value:      numeric.Clone(value),
		Price:      curve.Price(),
		Referer:    referer,
		Commission: commission,
	}, nil
}

func (m *Market) commission(buyer, referer string, value *big.Int) (*big.Int, error) {
	if referer == "" || referer == buyer || m.cfg.ReferralCutBps == 0 {
		return new(big.Int), nil
	}
	c, err := numeric.MulDiv(value, big.NewInt(int64(m.cfg.ReferralCutBps)), big.NewInt(maxBps))
	return c, arith(err)
}

// Sell burns amount tokens of tx.From and pays the curve value out of the
// vault. Pending profit is left in place for a later Claim.
func (m *Market) Sell(ctx context.Context, tx host.Tx, amount *big.Int) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	trade, err := m.sell(ctx, tx, amount)

	ev := events.SellEvent{
		BaseEvent: baseEvent(events.TradeSell, tx.Timestamp, err),
		Account:   tx.From,
		Amount:    numeric.Clone(amount),
	}
	if err != nil {
		m.log.WithAccount(tx.From).Warn("Sell rejected",
			zap.String("amount", numeric.String(amount)),
			zap.Error(err))
		m.emit(ctx, ev)
		return nil, err
	}

	ev.Value = trade.Value
	ev.OrderID = trade.OrderID
	ev.Price = trade.Price
	ev.ProfitPool = m.dist.ProfitPool()
	ev.IssuedSupply = m.dist.IssuedSupply()
	m.log.WithOrder(trade.OrderID, string(OrderSell)).WithAccount(tx.From).Info("Sell executed",
		zap.String("amount", trade.Amount.String()),
		zap.String("value", trade.Value.String()),
		zap.String("price", trade.Price.String()))
	m.emit(ctx, ev)
	return trade, nil
}

func (m *Market) sell(ctx context.Context, tx host.Tx, amount *big.Int) (*Trade, error) {
	if tx.From == "" {
		return nil, ErrInvalidAccount
	}
	if !numeric.IsPositive(amount) {
		return nil, fmt.Errorf("%w: sell amount must be positive", ErrInvalidAmount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount = numeric.Clone(amount)

	balance := m.ledger.BalanceOf(tx.From)
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, selling %s", ErrInsufficientBalance, tx.From, balance, amount)
	}

	curve := m.curve.clone()
	dist := m.dist.Fork()

	value, err := curve.ValueForAmount(amount)
	if err != nil {
		return nil, err
	}
	if err := curve.ApplySell(amount); err != nil {
		return nil, err
	}
	if err := dist.Accrue(tx.From, new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}

	order := Order{
		ID:        m.orders.Next(),
		Account:   tx.From,
		Amount:    amount,
		Value:     value,
		Timestamp: tx.Timestamp,
		Type:      OrderSell,
	}

	j := newJournal(m.logger)
	if err := m.ledger.Burn(tx.From, amount); err != nil {
		return nil, classify(err)
	}
	j.record("ledger.burn", func() error { return m.ledger.Mint(tx.From, amount) })

	if err := m.vault.Withdraw(tx.From, value); err != nil {
		j.rollback()
		return nil, classify(err)
	}
	j.record("vault.withdraw", func() error { return m.vault.RevertWithdraw(tx.From, value) })

	if err := m.commit(ctx, j, curve, dist, &order, []string{tx.From}, nil); err != nil {
		return nil, err
	}

	return &Trade{
		OrderID: order.ID,
		Type:    OrderSell,
		Account: tx.From,
		Amount:  numeric.Clone(amount),
		Value:   numeric.Clone(value),
		Price:   curve.Price(),
	}, nil
}

// Claim pays tx.From its pending share of the profit pool.
func (m *Market) Claim(ctx context.Context, tx host.Tx) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	payout, err := m.claim(ctx, tx)

	ev := events.ClaimEvent{
		BaseEvent: baseEvent(events.ProfitClaim, tx.Timestamp, err),
		Account:   tx.From,
		Value:     numeric.Clone(payout),
	}
	if err != nil {
		m.log.WithAccount(tx.From).Warn("Claim rejected", zap.Error(err))
		m.emit(ctx, ev)
		return nil, err
	}

	m.log.WithAccount(tx.From).Info("Profit claimed", zap.String("value", payout.String()))
	m.emit(ctx, ev)
	return payout, nil
}

func (m *Market) claim(ctx context.Context, tx host.Tx) (*big.Int, error) {
	if tx.From == "" {
		return nil, ErrInvalidAccount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dist := m.dist.Fork()
	payout, err := dist.Claim(tx.From, m.ledger.BalanceOf(tx.From))
	if err != nil {
		return nil, err
	}

	j := newJournal(m.logger)
	if err := m.vault.Withdraw(tx.From, payout); err != nil {
		return nil, classify(err)
	}
	j.record("vault.withdraw", func() error { return m.vault.RevertWithdraw(tx.From, payout) })

	if err := m.commit(ctx, j, m.curve, dist, nil, nil, nil); err != nil {
		return nil, err
	}
	return payout, nil
}

// Transfer moves amount tokens from tx.From to to. Both claim baselines move
// with the tokens, so neither side gains or loses pending profit.
func (m *Market) Transfer(ctx context.Context, tx host.Tx, to string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	err := m.transfer(ctx, tx, "", tx.From, to, amount)
	m.finishTransfer(ctx, tx, "", tx.From, to, amount, err)
	return err
}

// TransferFrom moves amount tokens from from to to on behalf of tx.From,
// consuming the allowance from granted to it.
func (m *Market) TransferFrom(ctx context.Context, tx host.Tx, from, to string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	err := m.transfer(ctx, tx, tx.From, from, to, amount)
	m.finishTransfer(ctx, tx, tx.From, from, to, amount, err)
	return err
}

func (m *Market) transfer(ctx context.Context, tx host.Tx, spender, from, to string, amount *big.Int) error {
	if tx.From == "" || from == "" || to == "" {
		return ErrInvalidAccount
	}
	if !numeric.IsPositive(amount) {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidAmount)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	amount = numeric.Clone(amount)

	dist := m.dist.Fork()
	if err := dist.Accrue(from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := dist.Accrue(to, amount); err != nil {
		return err
	}

	j := newJournal(m.logger)
	var owners []string
	if spender == "" {
		if err := m.ledger.Transfer(from, to, amount); err != nil {
			return classify(err)
		}
		j.record("ledger.transfer", func() error { return m.ledger.Transfer(to, from, amount) })
	} else {
		prev := m.ledger.Allowance(from, spender)
		if err := m.ledger.TransferFrom(spender, from, to, amount); err != nil {
			return classify(err)
		}
		j.record("ledger.transfer_from", func() error {
			m.ledger.RestoreAllowance(from, spender, prev)
			return m.ledger.Transfer(to, from, amount)
		})
		owners = []string{from}
	}

	return m.commit(ctx, j, m.curve, dist, nil, []string{from, to}, owners)
}

func (m *Market) finishTransfer(ctx context.Context, tx host.Tx, spender, from, to string, amount *big.Int, err error) {
	ev := events.TransferEvent{
		BaseEvent: baseEvent(events.TokenTransfer, tx.Timestamp, err),
		Spender:   spender,
		From:      from,
		To:        to,
		Value:     numeric.Clone(amount),
	}
	if err != nil {
		m.logger.Warn("Transfer rejected",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
	} else {
		m.logger.Debug("Transfer executed",
			zap.String("from", from),
			zap.String("to", to),
			zap.String("value", amount.String()))
	}
	m.emit(ctx, ev)
}

// Approve replaces the allowance of spender over tx.From's tokens. The call
// fails with ErrInvalidAmount unless currentValue equals the allowance in
// place, and value may not exceed the owner's balance.
func (m *Market) Approve(ctx context.Context, tx host.Tx, spender string, currentValue, value *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx = m.stamp(tx)
	err := m.approve(ctx, tx, spender, currentValue, value)

	ev := events.ApproveEvent{
		BaseEvent: baseEvent(events.TokenApprove, tx.Timestamp, err),
		Owner:     tx.From,
		Spender:   spender,
		Value:     numeric.Clone(value),
	}
	if err != nil {
		m.log.WithAccount(tx.From).Warn("Approve rejected",
			zap.String("spender", spender),
			zap.Error(err))
	}
	m.emit(ctx, ev)
	return err
}

func (m *Market) approve(ctx context.Context, tx host.Tx, spender string, currentValue, value *big.Int) error {
	if tx.From == "" || spender == "" {
		return ErrInvalidAccount
	}
	if value == nil || value.Sign() < 0 || currentValue == nil || currentValue.Sign() < 0 {
		return fmt.Errorf("%w: allowance must be non-negative", ErrInvalidAmount)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prev := m.ledger.Allowance(tx.From, spender)
	if err := m.ledger.Approve(tx.From, spender, currentValue, value); err != nil {
		return classify(err)
	}
	j := newJournal(m.logger)
	j.record("ledger.approve", func() error {
		m.ledger.RestoreAllowance(tx.From, spender, prev)
		return nil
	})

	return m.commit(ctx, j, m.curve, m.dist.Fork(), nil, nil, []string{tx.From})
}

// commit persists the operation and swaps the new state in. On a storage
// failure the journal is rolled back and nothing changes.
func (m *Market) commit(ctx context.Context, j *journal, curve *Curve, dist *Distributor, order *Order, accounts, owners []string) error {
	if order != nil {
		if err := validateOrder(order.Account, order.Amount, order.Value, order.Type); err != nil {
			j.rollback()
			return err
		}
	}
	if m.store != nil {
		cs := m.changeset(curve, dist, order, accounts, owners)
		if err := m.store.Commit(ctx, cs); err != nil {
			j.rollback()
			return fmt.Errorf("failed to persist state: %w", err)
		}
	}

	m.curve = curve
	dist.Commit()
	if order != nil {
		id, err := m.orders.Append(order.Account, order.Amount, order.Value, order.Type, order.Timestamp)
		if err != nil {
			return err
		}
		if id != order.ID {
			m.logger.Error("Order id drifted from persisted id",
				zap.Uint64("persisted", order.ID),
				zap.Uint64("appended", id))
		}
	}
	return nil
}

func (m *Market) stamp(tx host.Tx) host.Tx {
	if tx.Timestamp.IsZero() {
		tx.Timestamp = m.clock.Now()
	}
	return tx
}

func (m *Market) emit(ctx context.Context, ev events.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.PublishSync(ctx, ev); err != nil {
		m.logger.Warn("Event delivery failed",
			zap.String("event_type", string(ev.Type())),
			zap.Error(err))
	}
}

func baseEvent(typ events.EventType, ts time.Time, err error) events.BaseEvent {
	base := events.BaseEvent{EventType: typ, EventTime: ts, Status: err == nil}
	if err != nil {
		base.Error = err.Error()
	}
	return base
}

// Restore loads persisted state. The persisted slope must match the
// configured one. If the ledger supports it, balances and allowances are
// restored as well.
func (m *Market) Restore(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st == nil {
		return errors.New("nil state")
	}
	if st.Slope != nil && st.Slope.Cmp(m.curve.slope) != 0 {
		return fmt.Errorf("persisted slope %s differs from configured %s", st.Slope, m.curve.slope)
	}
	if st.OrderIndex != uint64(len(st.Orders)) {
		return fmt.Errorf("order index %d does not match %d persisted orders", st.OrderIndex, len(st.Orders))
	}
	price := st.Price
	if price == nil {
		price = m.cfg.InitialPrice
	}
	curve, err := NewCurve(price, m.curve.slope)
	if err != nil {
		return fmt.Errorf("invalid persisted curve: %w", err)
	}
	if err := m.orders.restore(st.Orders); err != nil {
		return err
	}

	m.dist.restore(st.IssuedSupply, st.ProfitPool, st.PPT, st.ClaimedProfit, st.Earnings)
	m.curve = curve
	if r, ok := m.ledger.(ledgerRestorer); ok {
		r.Restore(st.TotalSupply, st.Balances, st.Allowed)
	}

	m.logger.Info("Market state restored",
		zap.String("price", curve.price.String()),
		zap.String("issued_supply", numeric.String(st.IssuedSupply)),
		zap.Int("orders", len(st.Orders)))
	return nil
}

// Queries.

func (m *Market) Price() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curve.Price()
}

func (m *Market) Slope() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curve.Slope()
}

func (m *Market) IssuedSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.IssuedSupply()
}

func (m *Market) ProfitPool() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.ProfitPool()
}

func (m *Market) PPT() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.PPT()
}

func (m *Market) ClaimedProfit(account string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.ClaimedProfit(account)
}

// Pending returns what Claim would pay account right now.
func (m *Market) Pending(account string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.Pending(account, m.ledger.BalanceOf(account))
}

func (m *Market) Earnings(account string) Earnings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.Earnings(account)
}

// TotalEarnings returns the profit and referral payouts of all accounts.
func (m *Market) TotalEarnings() Earnings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dist.TotalEarnings()
}

// Holders counts accounts with a non-zero token balance.
func (m *Market) Holders() int {
	return m.ledger.Holders()
}

func (m *Market) BalanceOf(account string) *big.Int {
	return m.ledger.BalanceOf(account)
}

func (m *Market) TokenInfo() ledger.Info {
	return m.ledger.Info()
}

func (m *Market) ReferralCutBps() uint32 {
	return m.cfg.ReferralCutBps
}

func (m *Market) Order(id uint64) (Order, error) {
	return m.orders.Get(id)
}

func (m *Market) Orders(offset, limit int) []Order {
	return m.orders.List(offset, limit)
}

func (m *Market) OrdersOf(account string) []Order {
	return m.orders.ByAccount(account)
}

func (m *Market) OrderCount() int {
	return m.orders.Len()
}

// QuoteBuy prices a buy at the current curve position.
func (m *Market) QuoteBuy(value *big.Int) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curve.QuoteBuy(value)
}

// QuoteSell prices a sell at the current curve position.
func (m *Market) QuoteSell(amount *big.Int) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curve.QuoteSell(amount)
}
