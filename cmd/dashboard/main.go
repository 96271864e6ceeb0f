package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/api"
	"github.com/khaitrandinh/binance-dashboard/internal/market/binance"
	"github.com/khaitrandinh/binance-dashboard/internal/market/broadcast"
	"github.com/khaitrandinh/binance-dashboard/internal/market/candle"
	"github.com/khaitrandinh/binance-dashboard/internal/market/feed"
	"github.com/khaitrandinh/binance-dashboard/internal/market/heatmap"
	"github.com/khaitrandinh/binance-dashboard/internal/market/influxsink"
	"github.com/khaitrandinh/binance-dashboard/internal/market/journal"
	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/internal/market/snapshot"
	"github.com/khaitrandinh/binance-dashboard/internal/market/store"
	"github.com/khaitrandinh/binance-dashboard/pkg/config"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
	"github.com/khaitrandinh/binance-dashboard/pkg/orm"
	"github.com/khaitrandinh/binance-dashboard/pkg/safe"
	"github.com/khaitrandinh/binance-dashboard/pkg/xredis"
)

type Config struct {
	Service struct {
		Name     string `mapstructure:"name"`
		LogLevel string `mapstructure:"logLevel"`
	} `mapstructure:"service"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Market struct {
		Symbol            string        `mapstructure:"symbol"`
		Streams           []string      `mapstructure:"streams"`
		Timeframes        []string      `mapstructure:"timeframes"`
		BroadcastInterval time.Duration `mapstructure:"broadcastInterval"`
		JournalPath       string        `mapstructure:"journalPath"`
	} `mapstructure:"market"`
	Binance struct {
		RestBaseURL string `mapstructure:"restBaseURL"`
		WsBaseURL   string `mapstructure:"wsBaseURL"`
	} `mapstructure:"binance"`
	MySQL struct {
		DSN         string `mapstructure:"dsn"`
		MaxIdle     int    `mapstructure:"maxIdle"`
		MaxOpen     int    `mapstructure:"maxOpen"`
		MaxLifetime int    `mapstructure:"maxLifetime"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Nats struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
	} `mapstructure:"nats"`
	Influx struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Token   string `mapstructure:"token"`
		Org     string `mapstructure:"org"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"influx"`
}

func main() {
	var cfg Config
	if _, err := config.LoadAndWatch("dashboard", &cfg); err != nil {
		panic("load config failed: " + err.Error())
	}

	logger.Init(cfg.Service.Name, cfg.Service.LogLevel)
	defer logger.Sync()
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------- 存储 ----------
	db := orm.NewMySQL(&orm.Config{
		DSN:         cfg.MySQL.DSN,
		MaxIdle:     cfg.MySQL.MaxIdle,
		MaxOpen:     cfg.MySQL.MaxOpen,
		MaxLifetime: cfg.MySQL.MaxLifetime,
	})
	repo := store.New(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "🚨 建表失败", zap.Error(err))
	}

	rdb := xredis.NewRedis(&xredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// ---------- 广播链路 ----------
	var broker broadcast.Broker
	if cfg.Nats.Enabled {
		nb, err := broadcast.NewNatsBroker(cfg.Nats.URL)
		if err != nil {
			logger.Fatal(ctx, "🚨 NATS 连接失败", zap.Error(err))
		}
		broker = nb
	} else {
		broker = broadcast.NewMemBroker()
	}
	defer broker.Close()

	hub := broadcast.NewHub()
	wss := broadcast.NewServer(ctx, hub)
	dispatcher := broadcast.NewDispatcher(broker, cfg.Market.BroadcastInterval)

	gw := broadcast.NewGateway(hub, broker)
	safe.GoCtx(ctx, func(ctx context.Context) {
		// kline.> 通配所有周期和交易对
		if err := gw.Run(ctx, []string{"kline:*:*"}); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "❌ gateway 退出", zap.Error(err))
		}
	})

	// ---------- 收盘K线时序副本 (可选) ----------
	var sink *influxsink.Sink
	if cfg.Influx.Enabled {
		sink = influxsink.New(influxsink.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer sink.Close()
		safe.GoCtx(ctx, func(ctx context.Context) { _ = sink.Run(ctx) })
	}

	// ---------- 聚合器 ----------
	timeframes := make([]model.Timeframe, 0, len(cfg.Market.Timeframes))
	for _, s := range cfg.Market.Timeframes {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			logger.Fatal(ctx, "🚨 配置的 timeframe 不认识", zap.String("timeframe", s))
		}
		timeframes = append(timeframes, tf)
	}

	var jnl *journal.Journal
	publish := func(tf model.Timeframe, c model.Candle, final bool) {
		dispatcher.Dispatch(tf, c, final)
		if final {
			if sink != nil {
				sink.Offer(c)
			}
			if jnl != nil {
				jnl.Sync()
			}
		}
	}
	agg := candle.NewAggregator(timeframes, repo, publish)

	// ---------- 成交日志 (可选) ----------
	// 先回放把进行中的K线补回来，再清空重新开写
	if cfg.Market.JournalPath != "" {
		n, err := journal.Replay(cfg.Market.JournalPath, func(tr model.Trade) {
			agg.OnTrade(ctx, tr)
		})
		if err != nil {
			logger.Warn(ctx, "⚠️ 成交日志回放失败，丢弃旧日志", zap.Error(err))
		} else if n > 0 {
			logger.Info(ctx, "✅ 成交日志回放完成", zap.Int("trades", n))
		}
		jnl, err = journal.New(cfg.Market.JournalPath, true)
		if err != nil {
			logger.Warn(ctx, "⚠️ 成交日志打开失败，本次不记日志", zap.Error(err))
			jnl = nil
		} else {
			defer jnl.Close()
		}
	}

	// ---------- 行情接入 ----------
	rest := binance.NewClient(binance.WithBaseURL(cfg.Binance.RestBaseURL))
	heat := heatmap.NewService(repo, rest, cfg.Market.Symbol)
	snaps := snapshot.NewService(rdb, rest)

	src := feed.NewBinanceSource(cfg.Market.Streams)
	if cfg.Binance.WsBaseURL != "" {
		src.BaseURL = cfg.Binance.WsBaseURL
	}
	runner := feed.NewRunner(src)
	runner.Run(ctx)

	safe.GoCtx(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case tr, ok := <-runner.Out:
				if !ok {
					return
				}
				agg.OnTrade(ctx, tr)
				snaps.OnTrade(ctx, tr)
				if jnl != nil {
					jnl.Append(tr)
				}
			}
		}
	})

	// ---------- HTTP ----------
	handler := api.NewHandler(cfg.Market.Symbol, agg, repo, heat, snaps, repo)
	srv := api.NewServer(ctx, cfg.HTTP.Addr, handler, wss)

	safe.Go(func() {
		logger.Info(ctx, "✅ 服务启动", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "🚨 http 启动失败", zap.Error(err))
		}
	})

	<-ctx.Done()
	logger.Info(context.Background(), "收到退出信号，开始优雅关停")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// 把进行中的K线最后落一次库再退
	agg.Flush(shutdownCtx)
	logger.Info(context.Background(), "✅ 退出完成")
}
