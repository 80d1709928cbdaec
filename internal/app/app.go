// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/nebula-market/internal/config"
	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/export"
	"github.com/rovshanmuradov/nebula-market/internal/host"
	"github.com/rovshanmuradov/nebula-market/internal/ledger"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/metrics"
	"github.com/rovshanmuradov/nebula-market/internal/monitor"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
	"github.com/rovshanmuradov/nebula-market/internal/runner"
	"github.com/rovshanmuradov/nebula-market/internal/storage"
	"github.com/rovshanmuradov/nebula-market/internal/storage/badgerkv"
	"github.com/rovshanmuradov/nebula-market/internal/storage/sqlstore"
)

// reserveAccount is the vault depositor used when funds are restored at start.
const reserveAccount = "restore"

// App wires the market to its stores, event consumers and the script runner.
type App struct {
	cfg    *config.Config
	log    *logger.Logger
	logger *zap.Logger

	Market  *market.Market
	Tokens  *ledger.Token
	Vault   *host.Vault
	Bus     *events.Bus
	Stream  *events.Bus // async delivery to slow consumers, nil without kafka
	Metrics *metrics.Collector
	History *monitor.TradeHistory

	kv       *badgerkv.Store
	db       storage.Storage
	shutdown *ShutdownHandler
}

func New(cfg *config.Config, log *logger.Logger) *App {
	return &App{
		cfg:      cfg,
		log:      log,
		logger:   log.Named("app"),
		shutdown: NewShutdownHandler(log.Named("shutdown"), 30*time.Second),
	}
}

// Initialize opens the stores, restores persisted state and subscribes the
// event consumers. On error everything opened so far is closed again.
func (a *App) Initialize(ctx context.Context) (err error) {
	defer a.log.TrackPerformance("initialize")()
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown(context.Background())
		}
	}()

	marketCfg, err := a.cfg.MarketConfig()
	if err != nil {
		return err
	}

	a.kv, err = retry(ctx, a.logger, a.cfg.Retries, "badger", func() (*badgerkv.Store, error) {
		return badgerkv.Open(a.cfg.Storage.Dir, a.cfg.Storage.InMemory, a.log.Logger)
	})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	a.shutdown.Add("badger", a.kv)

	if a.cfg.Database.Driver != "" {
		a.db, err = retry(ctx, a.logger, a.cfg.Retries, "database", func() (storage.Storage, error) {
			db, err := sqlstore.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, a.log.Logger)
			if err != nil {
				return nil, err
			}
			if err := db.RunMigrations(); err != nil {
				db.Close()
				return nil, err
			}
			return db, nil
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.shutdown.Add("database", a.db)
	}

	a.History, err = monitor.NewTradeHistory(a.cfg.ExportDir, 1000, int32(a.cfg.Token.Decimals), a.log.WithComponent("history").Logger)
	if err != nil {
		return err
	}
	a.shutdown.Add("history", a.History)

	if len(a.cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.log.Logger)
		// закрывается после шин, чтобы не терять последние события
		a.shutdown.Add("kafka", sink)

		a.Stream = events.NewBus(a.log.Logger, 4096)
		a.Stream.Subscribe(events.AllEvents, sink)
		a.shutdown.AddFunc("stream", func() error { return a.stopBus(a.Stream) })
	}

	a.Bus = events.NewBus(a.log.Logger, 256)
	a.shutdown.AddFunc("bus", func() error { return a.stopBus(a.Bus) })

	a.Metrics = metrics.NewCollector()
	a.Bus.Subscribe(events.AllEvents, a.Metrics)
	a.Bus.Subscribe(events.AllEvents, a.History)
	if a.db != nil {
		a.Bus.Subscribe(events.AllEvents, storage.NewIndexer(a.db, a.log.Logger))
	}
	if a.Stream != nil {
		a.Bus.Subscribe(events.AllEvents, events.Forward(a.Stream))
	}

	a.Tokens = ledger.New(a.cfg.TokenInfo())
	a.Vault = host.NewVault()
	a.Market, err = market.New(marketCfg, a.Tokens, a.Vault, a.log.Logger,
		market.WithStore(a.kv),
		market.WithEventSink(a.Bus),
	)
	if err != nil {
		return err
	}
	if err := a.watchMarket(); err != nil {
		return err
	}

	st, found, err := a.kv.Load(ctx)
	if err != nil {
		return err
	}
	if found {
		if err := a.Market.Restore(st); err != nil {
			return err
		}
		if err := a.Vault.Deposit(reserveAccount, st.Reserve()); err != nil {
			return fmt.Errorf("failed to restore vault reserve: %w", err)
		}
	}

	a.logger.Info("Market ready",
		zap.String("token", a.cfg.Token.Symbol),
		zap.String("price", a.Market.Price().String()),
		zap.Int("orders", a.Market.OrderCount()),
		zap.Bool("restored", found))
	return nil
}

// Run serves metrics and executes the configured script. Without a metrics
// server it returns once the script is done; otherwise it serves until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.Metrics.Serve(gctx, a.cfg.MetricsAddr, a.logger)
		})
	}

	if a.cfg.Script != "" {
		g.Go(func() error {
			return a.runScript(gctx)
		})
	}

	return g.Wait()
}

func (a *App) runScript(ctx context.Context) error {
	defer a.log.TrackPerformance("script")()

	script, err := runner.LoadScript(a.cfg.Script, int32(a.cfg.Token.Decimals), a.logger)
	if err != nil {
		return err
	}
	results, runErr := runner.New(a.Market, a.log).Run(ctx, script)
	a.logger.Info("Script completed",
		zap.Int("executed", len(results)),
		zap.Int("total", len(script.Steps)),
		zap.Error(runErr))

	if report, err := a.Report(ctx, script.Accounts, 10); err != nil {
		a.log.LogError("Failed to build session report", err)
	} else {
		a.logReport(report)
	}
	if err := a.Export(); err != nil {
		a.log.LogError("Export failed", err, zap.String("dir", a.cfg.ExportDir))
	}
	return runErr
}

// Export writes all orders as CSV and JSON plus today's report into the
// export directory.
func (a *App) Export() error {
	orders := a.Market.Orders(0, 0)
	if len(orders) == 0 {
		return nil
	}
	exporter := export.NewOrderExporter(int32(a.cfg.Token.Decimals), a.log.WithComponent("export").Logger)
	for _, format := range []export.ExportFormat{export.FormatCSV, export.FormatJSON} {
		if _, err := exporter.ExportOrders(orders, export.ExportOptions{Format: format, OutputDir: a.cfg.ExportDir}); err != nil {
			return err
		}
	}
	_, err := exporter.ExportDailyReport(orders, time.Now().UTC(), a.cfg.ExportDir)
	return err
}

func (a *App) stopBus(bus *events.Bus) error {
	a.logger.Debug("Stopping event bus", zap.Any("stats", bus.Stats()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return bus.Shutdown(ctx)
}

// watchMarket exposes the scrape-time market figures.
func (a *App) watchMarket() error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"holders", "Accounts with a non-zero token balance", func() float64 {
			return float64(a.Market.Holders())
		}},
		{"earned_by_share", "Profit paid to all holders", func() float64 {
			return numeric.Float64(a.Market.TotalEarnings().ByShare)
		}},
		{"earned_by_reference", "Referral commissions paid to all accounts", func() float64 {
			return numeric.Float64(a.Market.TotalEarnings().ByReference)
		}},
	}
	for _, g := range gauges {
		if err := a.Metrics.Watch(g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("failed to register %s gauge: %w", g.name, err)
		}
	}
	return nil
}

// Close shuts down every opened service.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

func retry[T any](ctx context.Context, log *zap.Logger, tries int, name string, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	if tries <= 0 {
		tries = 1
	}
	notify := func(err error, d time.Duration) {
		log.Warn("Повтор попытки после ошибки",
			zap.String("target", name),
			zap.Error(err),
			zap.Duration("backoff", d))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(notify))
}
