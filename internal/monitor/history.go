package monitor

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// TradeHistory keeps recent operations in memory and appends every one of them
// to a CSV file.
type TradeHistory struct {
	mu        sync.RWMutex
	csvWriter *logger.SafeCSVWriter
	trades    []Trade
	maxTrades int
	decimals  int32
	logger    *zap.Logger

	// Statistics
	totalTrades      int
	successfulTrades int
	buyVolume        *big.Int
	sellVolume       *big.Int
	claimed          *big.Int
}

// NewTradeHistory creates <logDir>/trades/trades_<time>.csv
func NewTradeHistory(logDir string, maxTrades int, decimals int32, zapLogger *zap.Logger) (*TradeHistory, error) {
	filename := fmt.Sprintf("trades_%s.csv", time.Now().Format("20060102_150405"))
	csvPath := filepath.Join(logDir, "trades", filename)

	csvWriter, err := logger.NewSafeCSVWriter(csvPath, CSVHeaders(), 30*time.Second, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	if maxTrades <= 0 {
		maxTrades = 1000
	}

	th := &TradeHistory{
		csvWriter:  csvWriter,
		trades:     make([]Trade, 0, maxTrades),
		maxTrades:  maxTrades,
		decimals:   decimals,
		logger:     zapLogger,
		buyVolume:  new(big.Int),
		sellVolume: new(big.Int),
		claimed:    new(big.Int),
	}

	zapLogger.Info("Trade history initialized",
		zap.String("csv_file", csvPath),
		zap.Int("max_memory_trades", maxTrades))

	return th, nil
}

// Handle implements events.Handler.
func (th *TradeHistory) Handle(_ context.Context, e events.Event) error {
	trade, ok := TradeFromEvent(e, th.decimals)
	if !ok {
		return nil
	}
	return th.LogTrade(trade, e)
}

// LogTrade records a trade. src, when given, feeds the volume statistics.
func (th *TradeHistory) LogTrade(trade Trade, src events.Event) error {
	th.mu.Lock()
	defer th.mu.Unlock()

	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now().UTC()
	}

	if err := th.csvWriter.WriteRecord(trade.ToCSV()); err != nil {
		th.logger.Error("Failed to write trade to CSV",
			zap.String("action", trade.Action),
			zap.Error(err))
		return fmt.Errorf("failed to write trade: %w", err)
	}

	// кольцевой буфер
	if len(th.trades) >= th.maxTrades {
		th.trades = th.trades[1:]
	}
	th.trades = append(th.trades, trade)

	th.totalTrades++
	if trade.Success {
		th.successfulTrades++
		switch ev := src.(type) {
		case events.BuyEvent:
			th.buyVolume.Add(th.buyVolume, numeric.Clone(ev.Value))
		case events.SellEvent:
			th.sellVolume.Add(th.sellVolume, numeric.Clone(ev.Value))
		case events.ClaimEvent:
			th.claimed.Add(th.claimed, numeric.Clone(ev.Value))
		}
	}

	th.logger.Debug("Trade logged",
		zap.String("id", trade.ID),
		zap.String("action", trade.Action),
		zap.String("account", trade.Account),
		zap.Bool("success", trade.Success))

	return nil
}

// GetRecentTrades returns up to limit most recent trades, oldest first
func (th *TradeHistory) GetRecentTrades(limit int) []Trade {
	th.mu.RLock()
	defer th.mu.RUnlock()

	if limit <= 0 || limit > len(th.trades) {
		limit = len(th.trades)
	}

	result := make([]Trade, limit)
	copy(result, th.trades[len(th.trades)-limit:])
	return result
}

// GetTradesByAccount returns the in-memory trades of one account
func (th *TradeHistory) GetTradesByAccount(account string) []Trade {
	th.mu.RLock()
	defer th.mu.RUnlock()

	var result []Trade
	for _, trade := range th.trades {
		if trade.Account == account {
			result = append(result, trade)
		}
	}
	return result
}

// GetStatistics returns aggregate statistics since start
func (th *TradeHistory) GetStatistics() TradeStatistics {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.statistics()
}

func (th *TradeHistory) statistics() TradeStatistics {
	stats := TradeStatistics{
		TotalTrades:      th.totalTrades,
		SuccessfulTrades: th.successfulTrades,
		FailedTrades:     th.totalTrades - th.successfulTrades,
		BuyVolume:        th.buyVolume.String(),
		SellVolume:       th.sellVolume.String(),
		Claimed:          th.claimed.String(),
	}
	stats.CSVRecords, _ = th.csvWriter.GetStats()
	if th.totalTrades > 0 {
		stats.SuccessRate = float64(th.successfulTrades) / float64(th.totalTrades) * 100
	}

	for _, trade := range th.trades {
		switch trade.Action {
		case "buy":
			stats.BuyCount++
		case "sell":
			stats.SellCount++
		case "claim":
			stats.ClaimCount++
		}
	}
	return stats
}

// Flush forces a write of any buffered trades
func (th *TradeHistory) Flush() error {
	return th.csvWriter.Flush()
}

// Close closes the trade history and ensures all data is written
func (th *TradeHistory) Close() error {
	th.mu.Lock()
	defer th.mu.Unlock()

	stats := th.statistics()
	th.logger.Info("Closing trade history",
		zap.Int("total_trades", stats.TotalTrades),
		zap.String("buy_volume", stats.BuyVolume),
		zap.String("sell_volume", stats.SellVolume),
		zap.Float64("success_rate", stats.SuccessRate))

	return th.csvWriter.Close()
}

// TradeStatistics holds aggregate trade statistics. Counts by action cover
// only the in-memory window.
type TradeStatistics struct {
	TotalTrades      int     `json:"total_trades"`
	SuccessfulTrades int     `json:"successful_trades"`
	FailedTrades     int     `json:"failed_trades"`
	SuccessRate      float64 `json:"success_rate"`
	BuyCount         int     `json:"buy_count"`
	SellCount        int     `json:"sell_count"`
	ClaimCount       int     `json:"claim_count"`
	BuyVolume        string  `json:"buy_volume"`
	SellVolume       string  `json:"sell_volume"`
	Claimed          string  `json:"claimed"`
	CSVRecords       uint64  `json:"csv_records"`
}
