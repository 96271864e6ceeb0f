package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/khaitrandinh/binance-dashboard/internal/market/candle"
	"github.com/khaitrandinh/binance-dashboard/internal/market/heatmap"
	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/internal/market/snapshot"
	"github.com/khaitrandinh/binance-dashboard/pkg/common"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

type Handler struct {
	symbol  string
	agg     *candle.Aggregator
	candles CandleHistoryStore
	heat    HeatmapComputer
	snaps   SnapshotGetter
	hourly  heatmap.AggStore
}

// CandleHistoryStore 持久K线的查询面 (store.Repo 实现)
type CandleHistoryStore interface {
	History(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// HeatmapComputer 热力图计算面 (heatmap.Service 实现)
type HeatmapComputer interface {
	Compute(ctx context.Context, gran heatmap.Granularity, date time.Time) (*heatmap.Result, error)
}

// SnapshotGetter 实时快照读取面 (snapshot.Service 实现)
type SnapshotGetter interface {
	Get(ctx context.Context, symbol string) (*snapshot.Snapshot, error)
}

func NewHandler(symbol string, agg *candle.Aggregator, candles CandleHistoryStore, heat HeatmapComputer, snaps SnapshotGetter, hourly heatmap.AggStore) *Handler {
	return &Handler{
		symbol:  symbol,
		agg:     agg,
		candles: candles,
		heat:    heat,
		snaps:   snaps,
		hourly:  hourly,
	}
}

// CandleHistory GET /api/candles/history/:timeframe?limit=N
// 返回已落库的K线，末尾拼上当前进行中的那根
func (h *Handler) CandleHistory(c *gin.Context) {
	tf, err := model.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		common.FailFromErr(c, xerr.New(xerr.RequestParamsError, err.Error()))
		return
	}

	limit := 500
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			common.FailFromErr(c, xerr.New(xerr.RequestParamsError, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	persisted, err := h.candles.History(c.Request.Context(), h.symbol, tf, limit)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	out := persisted
	if open, ok := h.agg.Snapshot(tf); ok {
		// 进行中的桶可能已经被逐笔 upsert 进去了，去重后以内存快照为准
		if n := len(out); n > 0 && out[n-1].BucketStart == open.BucketStart {
			out[n-1] = open
		} else {
			out = append(out, open)
		}
	}

	if len(out) == 0 {
		common.FailFromErr(c, xerr.New(xerr.NoDataAvailable, "no candles yet"))
		return
	}
	common.Success(c, out)
}

// CurrentCandle GET /api/candles/current/:timeframe
func (h *Handler) CurrentCandle(c *gin.Context) {
	tf, err := model.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		common.FailFromErr(c, xerr.New(xerr.RequestParamsError, err.Error()))
		return
	}

	open, ok := h.agg.Snapshot(tf)
	if !ok {
		common.FailFromErr(c, xerr.New(xerr.NoDataAvailable, "no open candle yet"))
		return
	}
	common.Success(c, open)
}

// Heatmap GET /api/heatmap/:granularity/:date
func (h *Handler) Heatmap(c *gin.Context) {
	gran, err := heatmap.ParseGranularity(c.Param("granularity"))
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	date, err := gran.ParseDate(c.Param("date"))
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	res, err := h.heat.Compute(c.Request.Context(), gran, date)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

// MarketRealTime GET /api/market/real-time/:symbol
func (h *Handler) MarketRealTime(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		common.FailFromErr(c, xerr.New(xerr.RequestParamsError, "symbol required"))
		return
	}

	snap, err := h.snaps.Get(c.Request.Context(), symbol)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, snap)
}

type hourlyVolume struct {
	Hour       int             `json:"hour"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
}

// HourlyVolumes GET /api/trades/hourly?date=2006-01-02
// 返回某天 24 小时的买卖量，缺数据的小时为 0
func (h *Handler) HourlyVolumes(c *gin.Context) {
	dateStr := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	date, err := heatmap.GranDay.ParseDate(dateStr)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	keys := make([]int64, 24)
	for i := 0; i < 24; i++ {
		keys[i], _ = heatmap.GranDay.SubPeriodRange(date, i)
	}

	cached, err := h.hourly.GetAggregated(c.Request.Context(), h.symbol, heatmap.GranDay.Interval(), keys)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	out := make([]hourlyVolume, 24)
	for i, key := range keys {
		out[i] = hourlyVolume{Hour: i, BuyVolume: decimal.Zero, SellVolume: decimal.Zero}
		if agg, ok := cached[key]; ok {
			out[i].BuyVolume = agg.BuyVolume
			out[i].SellVolume = agg.SellVolume
		}
	}
	common.Success(c, out)
}
