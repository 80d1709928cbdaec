// internal/metrics/collector.go
package metrics

import (
	"context"
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

const namespace = "nebula_market"

// Collector превращает события рынка в метрики Prometheus.
// Каждый Collector держит собственный реестр, поэтому тесты не конфликтуют.
type Collector struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	tradeValue   *prometheus.HistogramVec
	claimedTotal prometheus.Counter
	price        prometheus.Gauge
	profitPool   prometheus.Gauge
	issuedSupply prometheus.Gauge
}

// NewCollector создает коллектор и регистрирует метрики
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of market operations by type and outcome",
			},
			[]string{"type", "status"},
		),
		tradeValue: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_value",
				Help:      "Native value moved by executed trades",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 12),
			},
			[]string{"type"},
		),
		claimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claimed_profit_total",
			Help:      "Profit paid out through claims",
		}),
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price",
			Help:      "Current marginal token price",
		}),
		profitPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profit_pool",
			Help:      "Cumulative revenue recorded by the distributor",
		}),
		issuedSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "issued_supply",
			Help:      "Tokens issued through the curve",
		}),
	}

	c.registry.MustRegister(
		c.operations,
		c.tradeValue,
		c.claimedTotal,
		c.price,
		c.profitPool,
		c.issuedSupply,
	)
	return c
}

// Handler отдает метрики в формате Prometheus
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Watch регистрирует gauge, значение которого читается при каждом scrape
func (c *Collector) Watch(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handle implements events.Handler.
func (c *Collector) Handle(_ context.Context, event events.Event) error {
	status := "success"
	if !event.Success() {
		status = "failed"
	}
	c.operations.WithLabelValues(string(event.Type()), status).Inc()

	if !event.Success() {
		return nil
	}

	switch e := event.(type) {
	case events.BuyEvent:
		c.tradeValue.WithLabelValues("buy").Observe(numeric.Float64(e.Value))
		c.position(e.Price, e.ProfitPool, e.IssuedSupply)
	case events.SellEvent:
		c.tradeValue.WithLabelValues("sell").Observe(numeric.Float64(e.Value))
		c.position(e.Price, e.ProfitPool, e.IssuedSupply)
	case events.ClaimEvent:
		c.claimedTotal.Add(numeric.Float64(e.Value))
	}
	return nil
}

func (c *Collector) position(price, pool, issued *big.Int) {
	c.price.Set(numeric.Float64(price))
	c.profitPool.Set(numeric.Float64(pool))
	c.issuedSupply.Set(numeric.Float64(issued))
}
