package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"

	"github.com/khaitrandinh/binance-dashboard/internal/market/broadcast"
	"github.com/khaitrandinh/binance-dashboard/pkg/middleware"
	"github.com/khaitrandinh/binance-dashboard/pkg/ratelimit"
)

// NewServer 组装路由和中间件，返回待启动的 http.Server
func NewServer(ctx context.Context, addr string, h *Handler, ws *broadcast.Server) *http.Server {
	// 限流: 200 rps，突发 400
	store := ratelimit.NewStore(200, 400, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	p := ginprom.NewPrometheus("dashboard")
	p.Use(r)

	r.Use(
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)

	api := r.Group("/api")
	{
		api.GET("/candles/history/:timeframe", h.CandleHistory)
		api.GET("/candles/current/:timeframe", h.CurrentCandle)
		api.GET("/heatmap/:granularity/:date", h.Heatmap)
		api.GET("/market/real-time/:symbol", h.MarketRealTime)
		api.GET("/trades/hourly", h.HourlyVolumes)
	}

	r.GET("/ws", func(c *gin.Context) {
		ws.ServeWS(c.Writer, c.Request)
	})

	return &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
