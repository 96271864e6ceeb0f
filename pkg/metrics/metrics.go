package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TradesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "trades_ingested_total",
			Help:      "Total number of trades consumed from the feed.",
		},
		[]string{"symbol"},
	)

	TradesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "trades_dropped_total",
			Help:      "Total number of trades dropped by the aggregator.",
		},
		[]string{"reason"}, // late / duplicate
	)

	CandlesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "candles_closed_total",
			Help:      "Total number of candles closed and flushed.",
		},
		[]string{"timeframe"},
	)

	CandleUpsertFailTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "candle_upsert_fail_total",
			Help:      "Total number of candle upserts that failed after retry.",
		},
		[]string{"timeframe"},
	)

	FeedReconnectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "feed_reconnect_total",
			Help:      "Total number of feed reconnect attempts.",
		},
	)

	BroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "broadcast_total",
			Help:      "Total number of candle broadcasts published.",
		},
		[]string{"timeframe"},
	)

	BroadcastThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "broadcast_throttled_total",
			Help:      "Total number of broadcasts suppressed by the per-timeframe gate.",
		},
		[]string{"timeframe"},
	)

	HeatmapGapFillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "heatmap_gapfill_total",
			Help:      "Total number of heatmap gap-fill fetches.",
		},
		[]string{"interval", "result"}, // result: ok / empty / error / timeout
	)

	WsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dashboard",
			Name:      "ws_connections",
			Help:      "Current number of WebSocket subscriber connections.",
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		TradesIngestedTotal,
		TradesDroppedTotal,
		CandlesClosedTotal,
		CandleUpsertFailTotal,
		FeedReconnectTotal,
		BroadcastTotal,
		BroadcastThrottledTotal,
		HeatmapGapFillTotal,
		WsConnections,
	)
}
