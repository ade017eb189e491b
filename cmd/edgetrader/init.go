package api

import (
	"context"
	"fmt"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/cycle"
	"edgetrader/internal/dao"
	"edgetrader/internal/dao/query"
	"edgetrader/internal/exchange"
	handler "edgetrader/internal/handler/cycle"
	"edgetrader/internal/indicator"
	"edgetrader/internal/metrics"
	"edgetrader/internal/model"
	"edgetrader/internal/ranking"
	"edgetrader/internal/router"
	"edgetrader/pkg/cache"
	"edgetrader/pkg/db"
	"edgetrader/pkg/hype/rest"
	"edgetrader/pkg/kafka"
	"edgetrader/pkg/logger"
	"edgetrader/pkg/recorder"
	"edgetrader/pkg/retry"

	"github.com/redis/go-redis/v9"
)

const (
	feedMaxAge      = 30 * time.Second
	rankingCacheTTL = 6 * time.Hour
)

// App 一次进程内装配好的组件
type App struct {
	Manager *cycle.Manager
	Router  Router

	feed     *exchange.MidsFeed
	wsURL    string
	closers  []func()
	cancelWs context.CancelFunc
}

// InitApp 按配置装配交易所、数据源、状态存储、执行器与报告发布
func InitApp(ctx context.Context, cfg *conf.Config) (*App, error) {
	app := &App{wsURL: cfg.Hyperliquid.WsURL}

	opts := []rest.Option{
		rest.WithRateLimit(cfg.Hyperliquid.RequestsPerSecond, cfg.Hyperliquid.Burst),
		rest.WithRetryPolicy(retry.FromConfig(cfg.Retry)),
	}
	if cfg.Hyperliquid.SignerURL != "" {
		signer, err := rest.NewRemoteSigner(cfg.Hyperliquid.SignerURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rest.WithSigner(signer))
	}
	client, err := rest.NewHyperliquidRestClient(cfg.Hyperliquid.URL, opts...)
	if err != nil {
		return nil, err
	}
	if app.wsURL != "" {
		app.feed = exchange.NewMidsFeed(feedMaxAge)
	}
	venue := exchange.NewHyperliquidVenue(client, cfg.Hyperliquid.Wallet, app.feed)

	store, rdb, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		app.closers = append(app.closers, cache.CloseRedis)
	}

	var executor exchange.Executor
	if cfg.Trading.Mode == conf.ModeLive {
		executor = exchange.NewLiveExecutor(venue, cfg.Execution, retry.FromConfig(cfg.Retry))
	} else {
		executor = exchange.NewPaperExecutor()
	}

	deps := cycle.Deps{
		Store:      store,
		Executor:   executor,
		Snapshots:  indicator.NewBuilder(venue, venue, cfg.Trading.CandleInterval, cfg.Trading.CandleLookback),
		Prices:     venue,
		Metrics:    metrics.New(),
		Publishers: []cycle.Publisher{cycle.NewRecorderPublisher(recorder.NewJSONFileRecorder(cfg.Recorder.Path))},
		NodeID:     1,
	}
	if cfg.Trading.Mode == conf.ModeLive {
		deps.Account = venue
	}
	if cfg.Trading.TopN > 0 {
		var rankOpts []ranking.Option
		if rdb != nil {
			rankOpts = append(rankOpts, ranking.WithRedisCache(rdb, cfg.AppName+":ranking", rankingCacheTTL))
		}
		deps.Ranker = ranking.NewRanker(venue, cfg.Trading.TopN, rankOpts...)
	}

	if cfg.Kafka.Broker != "" && cfg.Kafka.Topic != "" {
		producer, err := kafka.NewKafkaProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, producer.Close)
		deps.Publishers = append(deps.Publishers, cycle.NewKafkaPublisher(producer))
	}

	var trades dao.TradeDao
	if dbCfg := db.NewConfig(cfg.Db); dbCfg.Enabled() {
		datasource, err := db.Open(dbCfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() {
			if sqlDB, err := datasource.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		if err := datasource.WithContext(ctx).AutoMigrate(&model.TradeRecord{}); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate trade_records: %w", err)
		}
		trades = query.NewTradeDao(datasource)
		deps.Publishers = append(deps.Publishers, cycle.NewJournalPublisher(trades))
	}

	manager, err := cycle.NewManager(cfg, deps)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init cycle manager: %w", err)
	}
	app.Manager = manager
	app.Router = router.NewApiRouter(handler.NewHandler(manager, trades), deps.Metrics.Handler(), cfg.OpsSecret)
	return app, nil
}

// OpenStore 按 store.driver 创建状态存储，配置了 redis 时同时返回共用的客户端
func OpenStore(ctx context.Context, cfg *conf.Config) (cycle.Store, *redis.Client, error) {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if err := cache.InitRedis(ctx, cfg.Redis); err != nil {
			return nil, nil, err
		}
		rdb = cache.GetRedisClient()
	}
	if cfg.Store.Driver == "redis" {
		return cycle.NewRedisStore(rdb, cfg.Store.Key), rdb, nil
	}
	return cycle.NewFileStore(cfg.Store.Path), rdb, nil
}

// StartFeed 后台订阅 allMids 推送，Close 时停止
func (a *App) StartFeed(ctx context.Context) {
	if a.feed == nil {
		return
	}
	ctx, a.cancelWs = context.WithCancel(ctx)
	go a.feed.Run(ctx, a.wsURL)
	logger.Infof("mids feed subscribed: %s", a.wsURL)
}

// Close 逆序释放资源
func (a *App) Close() {
	if a.cancelWs != nil {
		a.cancelWs()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
