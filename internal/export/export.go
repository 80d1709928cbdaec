package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format        ExportFormat
	StartTime     time.Time
	EndTime       time.Time
	AccountFilter string
	TypeFilter    market.OrderType
	OutputDir     string
}

// OrderExporter writes the order ledger out as CSV or JSON.
type OrderExporter struct {
	decimals int32
	clock    host.Clock
	logger   *zap.Logger
}

// NewOrderExporter creates an exporter. Token amounts are written with the
// given decimals.
func NewOrderExporter(decimals int32, logger *zap.Logger) *OrderExporter {
	return &OrderExporter{
		decimals: decimals,
		clock:    host.SystemClock{},
		logger:   logger,
	}
}

// ExportOrders exports orders based on the provided options
func (oe *OrderExporter) ExportOrders(orders []market.Order, options ExportOptions) (string, error) {
	filtered := filterOrders(orders, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no orders match the export criteria")
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, oe.generateFilename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = oe.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = oe.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	oe.logger.Info("Orders exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func filterOrders(orders []market.Order, options ExportOptions) []market.Order {
	var filtered []market.Order
	for _, o := range orders {
		if !options.StartTime.IsZero() && o.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !o.Timestamp.Before(options.EndTime) {
			continue
		}
		if options.AccountFilter != "" && o.Account != options.AccountFilter {
			continue
		}
		if options.TypeFilter != "" && o.Type != options.TypeFilter {
			continue
		}
		filtered = append(filtered, o)
	}
	return filtered
}

func (oe *OrderExporter) generateFilename(options ExportOptions) string {
	timestamp := oe.clock.Now().Format("20060102_150405")

	prefix := "orders_all"
	if options.TypeFilter != "" {
		prefix = "orders_" + string(options.TypeFilter)
	}
	if options.AccountFilter != "" {
		acct := options.AccountFilter
		if len(acct) > 8 {
			acct = acct[:8]
		}
		prefix += "_" + acct
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// CSVHeaders returns the header row of exported CSV files
func CSVHeaders() []string {
	return []string{"order_id", "timestamp", "account", "type", "amount", "value"}
}

func (oe *OrderExporter) record(o market.Order) []string {
	return []string{
		strconv.FormatUint(o.ID, 10),
		o.Timestamp.UTC().Format(time.RFC3339Nano),
		o.Account,
		string(o.Type),
		numeric.FormatUnits(o.Amount, oe.decimals),
		numeric.String(o.Value),
	}
}

func (oe *OrderExporter) exportToCSV(orders []market.Order, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, o := range orders {
		if err := writer.Write(oe.record(o)); err != nil {
			return fmt.Errorf("failed to write order %d: %w", o.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportedOrder is the JSON shape of an order.
type ExportedOrder struct {
	OrderID   uint64    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	Account   string    `json:"account"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Value     string    `json:"value"`
}

func (oe *OrderExporter) toExported(orders []market.Order) []ExportedOrder {
	out := make([]ExportedOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, ExportedOrder{
			OrderID:   o.ID,
			Timestamp: o.Timestamp,
			Account:   o.Account,
			Type:      string(o.Type),
			Amount:    numeric.FormatUnits(o.Amount, oe.decimals),
			Value:     numeric.String(o.Value),
		})
	}
	return out
}

func (oe *OrderExporter) exportToJSON(orders []market.Order, outputPath string) error {
	exportData := struct {
		ExportTime time.Time       `json:"export_time"`
		OrderCount int             `json:"order_count"`
		Orders     []ExportedOrder `json:"orders"`
		Summary    ExportSummary   `json:"summary"`
	}{
		ExportTime: oe.clock.Now(),
		OrderCount: len(orders),
		Orders:     oe.toExported(orders),
		Summary:    oe.CalculateSummary(orders),
	}
	return writeJSON(outputPath, exportData)
}

func writeJSON(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported orders
type ExportSummary struct {
	TotalOrders    int       `json:"total_orders"`
	BuyCount       int       `json:"buy_count"`
	SellCount      int       `json:"sell_count"`
	UniqueAccounts int       `json:"unique_accounts"`
	TokensBought   string    `json:"tokens_bought"`
	TokensSold     string    `json:"tokens_sold"`
	BuyVolume      string    `json:"buy_volume"`
	SellVolume     string    `json:"sell_volume"`
	NetInflow      string    `json:"net_inflow"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// CalculateSummary aggregates orders sorted by id.
func (oe *OrderExporter) CalculateSummary(orders []market.Order) ExportSummary {
	summary := ExportSummary{TotalOrders: len(orders)}
	if len(orders) == 0 {
		return summary
	}

	summary.StartDate = orders[0].Timestamp
	summary.EndDate = orders[len(orders)-1].Timestamp

	accounts := make(map[string]struct{})
	bought, sold := new(big.Int), new(big.Int)
	buyVol, sellVol := new(big.Int), new(big.Int)

	for _, o := range orders {
		accounts[o.Account] = struct{}{}
		switch o.Type {
		case market.OrderBuy:
			summary.BuyCount++
			bought.Add(bought, o.Amount)
			buyVol.Add(buyVol, o.Value)
		case market.OrderSell:
			summary.SellCount++
			sold.Add(sold, o.Amount)
			sellVol.Add(sellVol, o.Value)
		}
	}

	summary.UniqueAccounts = len(accounts)
	summary.TokensBought = numeric.FormatUnits(bought, oe.decimals)
	summary.TokensSold = numeric.FormatUnits(sold, oe.decimals)
	summary.BuyVolume = buyVol.String()
	summary.SellVolume = sellVol.String()
	summary.NetInflow = new(big.Int).Sub(buyVol, sellVol).String()
	return summary
}

// DailyReport represents one day of trading
type DailyReport struct {
	Date            time.Time       `json:"date"`
	OrderCount      int             `json:"order_count"`
	Summary         ExportSummary   `json:"summary"`
	HourlyBreakdown []HourlyStats   `json:"hourly_breakdown"`
	Orders          []ExportedOrder `json:"orders"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour       int    `json:"hour"`
	OrderCount int    `json:"order_count"`
	BuyCount   int    `json:"buy_count"`
	SellCount  int    `json:"sell_count"`
	Volume     string `json:"volume"`
}

// ExportDailyReport writes daily_report_<date>.json. It returns "" when the
// day has no orders.
func (oe *OrderExporter) ExportDailyReport(orders []market.Order, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	filtered := filterOrders(orders, ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.Add(24 * time.Hour),
	})
	if len(filtered) == 0 {
		oe.logger.Info("No orders for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		OrderCount:      len(filtered),
		Summary:         oe.CalculateSummary(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered, date.Location()),
		Orders:          oe.toExported(filtered),
	}
	if err := writeJSON(outputPath, report); err != nil {
		return "", err
	}

	oe.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("orders", len(filtered)))

	return outputPath, nil
}

func hourlyBreakdown(orders []market.Order, loc *time.Location) []HourlyStats {
	type acc struct {
		stats  HourlyStats
		volume *big.Int
	}
	hours := make(map[int]*acc)

	for _, o := range orders {
		hour := o.Timestamp.In(loc).Hour()
		a, ok := hours[hour]
		if !ok {
			a = &acc{stats: HourlyStats{Hour: hour}, volume: new(big.Int)}
			hours[hour] = a
		}
		a.stats.OrderCount++
		a.volume.Add(a.volume, o.Value)
		if o.Type == market.OrderBuy {
			a.stats.BuyCount++
		} else {
			a.stats.SellCount++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if a, ok := hours[hour]; ok {
			a.stats.Volume = a.volume.String()
			breakdown = append(breakdown, a.stats)
		}
	}
	return breakdown
}
