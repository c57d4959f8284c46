// Package metrics — prometheus-метрики бота, отдаются статус-сервером на /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Engine ticks by result (ok|no_price|panic)",
		},
		[]string{"result"},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Threshold signals fired",
		},
		[]string{"side"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders sent to the exchange",
		},
		[]string{"side", "result"}, // result: ok|failed
	)

	mtxActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_last_action_total",
			Help: "last_action tags set by the engine",
		},
		[]string{"action"},
	)

	mtxPersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_persistence_errors_total",
			Help: "State store and ledger failures",
		},
		[]string{"target"}, // state|ledger
	)

	mtxExchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exchange_errors_total",
			Help: "Exchange API call failures",
		},
		[]string{"method"},
	)

	mtxPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_price",
			Help: "Last observed pair price",
		},
	)

	mtxPosition = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_position_qty",
			Help: "Base asset quantity held by the strategy",
		},
	)

	mtxRealizedPnL = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_realized_profit_quote_total",
			Help: "Sum of positive realized PnL of completed sells (quote currency)",
		},
	)

	mtxLastPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_last_trade_pnl_quote",
			Help: "PnL of the most recent sell",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxSignals, mtxOrders, mtxActions)
	prometheus.MustRegister(mtxPersistErrors, mtxExchangeErrors)
	prometheus.MustRegister(mtxPrice, mtxPosition, mtxRealizedPnL, mtxLastPnL)
}

func IncTick(result string)          { mtxTicks.WithLabelValues(result).Inc() }
func IncSignal(side string)          { mtxSignals.WithLabelValues(side).Inc() }
func IncOrder(side, result string)   { mtxOrders.WithLabelValues(side, result).Inc() }
func IncAction(action string)        { mtxActions.WithLabelValues(action).Inc() }
func IncPersistError(target string)  { mtxPersistErrors.WithLabelValues(target).Inc() }
func IncExchangeError(method string) { mtxExchangeErrors.WithLabelValues(method).Inc() }
func SetPrice(v float64)             { mtxPrice.Set(v) }
func SetPosition(v float64)          { mtxPosition.Set(v) }

// ObservePnL: счётчик не может уменьшаться, поэтому убытки видны только в last-гейдже.
func ObservePnL(v float64) {
	mtxLastPnL.Set(v)
	if v > 0 {
		mtxRealizedPnL.Add(v)
	}
}
