// gameweekd runs the gameweek prediction game: the HTTP API, the round
// lifecycle heartbeat and the reminder notifier.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phenomenon0/gameweek/internal/config"
	"github.com/phenomenon0/gameweek/internal/logger"
	"github.com/phenomenon0/gameweek/pkg/api"
	"github.com/phenomenon0/gameweek/pkg/feed"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/heartbeat"
	"github.com/phenomenon0/gameweek/pkg/league"
	"github.com/phenomenon0/gameweek/pkg/metrics"
	"github.com/phenomenon0/gameweek/pkg/notify"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/store/memory"
	"github.com/phenomenon0/gameweek/pkg/store/postgres"
	"github.com/phenomenon0/gameweek/pkg/streaming"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var configPath = flag.String("config", "", "Path to the YAML config file")

// notifier is what the daemon needs from a notify backend.
type notifier interface {
	heartbeat.Notifier
	Settled(ctx context.Context, report *game.SettlementReport) error
}

type storeBackend interface {
	game.Store
	Close() error
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gameweekd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, health, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := openFeed(cfg, log)
	if err != nil {
		return err
	}

	gm := metrics.NewGameMetrics()
	hub := streaming.NewHub(log.Named("ws"))
	go hub.Run(ctx)

	n, err := openNotifier(cfg, log)
	if err != nil {
		return err
	}

	engine := game.NewEngine(cfg.GameRules(), store, game.WithLogger(log.Named("engine")))
	engine.OnTransition(func(r *game.Round) {
		gm.RecordTransition(r)
		hub.BroadcastRound(r)
	})
	engine.OnLock(func(report *game.LockReport) {
		gm.RecordLock(report)
		hub.BroadcastLock(report)
	})
	engine.OnPick(func(ev *game.PickEvent) {
		gm.RecordPick(ev)
		hub.BroadcastPick(ev)
	})
	engine.OnSettle(func(report *game.SettlementReport) {
		gm.RecordSettlement(report)
		hub.BroadcastSettlement(report)
		go func() {
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := n.Settled(sendCtx, report); err != nil {
				log.Warn("settlement notification failed", zap.Error(err))
			}
		}()
	})

	pricer := pricing.NewPricer(cfg.PricingRules())

	locker, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}

	hb := heartbeat.New(cfg.HeartbeatTiming(), engine, source, pricer,
		heartbeat.WithNotifier(n),
		heartbeat.WithLocker(locker),
		heartbeat.WithLogger(log.Named("heartbeat")),
	)
	hb.OnBeat(func(r *heartbeat.Result) {
		gm.RecordBeat(r)
		hub.BroadcastBeat(r)
	})
	hb.OnError(func(err error) {
		hub.BroadcastError(err, "heartbeat")
	})

	leagues := league.NewService(store, league.WithLogger(log.Named("league")))

	server := api.NewServer(api.Config{
		AdminToken:  cfg.Server.AdminToken,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, engine, leagues,
		api.WithHeartbeat(hb),
		api.WithFeed(source, pricer),
		api.WithHub(hub),
		api.WithMetrics(gm),
		api.WithHealthCheck(health),
		api.WithLogger(log.Named("http")),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	var scheduler *heartbeat.Scheduler
	if cfg.Heartbeat.Schedule != "" {
		scheduler = heartbeat.NewScheduler(ctx, hb, log.Named("scheduler"))
		if _, err := scheduler.Add(cfg.Heartbeat.Schedule); err != nil {
			return fmt.Errorf("heartbeat schedule %q: %w", cfg.Heartbeat.Schedule, err)
		}
		scheduler.Start()
	} else {
		log.Info("no heartbeat schedule, beats are driven by /keep-alive")
	}

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storeBackend, func(context.Context) error, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn("no postgres dsn, using the in-memory store")
		return memory.New(), nil, nil
	}

	st, err := postgres.Open(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	log.Info("connected to postgres")
	return st, st.Ping, nil
}

func openFeed(cfg *config.Config, log *zap.Logger) (feed.Source, error) {
	if cfg.Feed.StaticFile != "" {
		src, err := feed.LoadStatic(cfg.Feed.StaticFile)
		if err != nil {
			return nil, err
		}
		log.Info("using static feed", zap.String("file", cfg.Feed.StaticFile))
		return src, nil
	}

	log.Info("using http feed", zap.String("base_url", cfg.Feed.BaseURL))
	return feed.NewClient(cfg.Feed.BaseURL,
		feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout}),
		feed.WithRateLimit(cfg.Feed.RateLimit, cfg.Feed.Burst),
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithLogger(log.Named("feed")),
	), nil
}

func openNotifier(cfg *config.Config, log *zap.Logger) (notifier, error) {
	if cfg.Telegram.Token == "" {
		return notify.NewLog(log.Named("notify")), nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log.Named("telegram"))
	if err != nil {
		return nil, err
	}
	return tg, nil
}

func openLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (heartbeat.Locker, error) {
	if cfg.Redis.Addr == "" {
		return heartbeat.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("heartbeat lock backed by redis", zap.String("addr", cfg.Redis.Addr))
	return heartbeat.NewRedisLocker(client, cfg.Redis.LockKey, cfg.Redis.LockTTL, log.Named("lock")), nil
}
