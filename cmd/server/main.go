// Command server wires the matching/risk engine to its boundary
// collaborators: Postgres persistence, the Hyperliquid price feed, and
// the HTTP/WebSocket façade. Structured the way the original main.py
// does it — load state, build the engine, start the feed and a periodic
// snapshot loop, serve — but as goroutines under one process instead of
// asyncio tasks under one event loop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	adapterhttp "github.com/kizxyz/hl-paper-mode/internal/adapters/http"
	adapterws "github.com/kizxyz/hl-paper-mode/internal/adapters/ws"
	"github.com/kizxyz/hl-paper-mode/internal/config"
	"github.com/kizxyz/hl-paper-mode/internal/engine"
	"github.com/kizxyz/hl-paper-mode/internal/feed"
	"github.com/kizxyz/hl-paper-mode/internal/logging"
	"github.com/kizxyz/hl-paper-mode/internal/metrics"
	"github.com/kizxyz/hl-paper-mode/internal/persistence"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

func main() {
	log := logging.For("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.SetLevel("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, cfg.Persist.PostgresDSN)
	if err != nil {
		log.Error().Err(err).Msg("persistence unavailable, running without durability")
		store = nil
	} else {
		defer store.Close()
	}

	initial := types.NewAccountState(cfg.Engine.StartingBalance)
	if store != nil {
		if saved, err := store.LoadSnapshot(ctx); err != nil {
			log.Error().Err(err).Msg("load snapshot")
		} else if saved != nil {
			log.Info().Float64("balance", saved.Balance).Int("positions", len(saved.Positions)).Msg("loaded saved state")
			initial = saved
		}
	}

	eng := engine.New(engine.Config{
		TickSize:     cfg.Engine.TickSize,
		TakerFeeRate: cfg.Engine.TakerFeeRate,
		MakerFeeRate: cfg.Engine.MakerFeeRate,
	}, initial)

	var redisClient *redis.Client
	if cfg.Persist.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Persist.RedisAddr, DB: cfg.Persist.RedisDB})
	}
	hub := adapterws.New(redisClient, "hl_paper:state")

	srv := adapterhttp.NewServer(eng, hub, store)

	router := gin.New()
	router.Use(gin.Recovery())
	srv.Routes(router)
	router.GET("/ws/state", func(c *gin.Context) {
		hub.ServeHTTP(c.Writer, c.Request, eng.Snapshot)
	})

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server")
		}
	}()

	feedClient := feed.NewClient(cfg.Feed.HyperliquidWSURL, cfg.Feed.ReconnectBackoff)
	firstPriceBatch := true
	go func() {
		err := feedClient.Run(ctx, func(mids map[string]float64) {
			closed := eng.OnPriceUpdates(mids)
			for _, c := range closed {
				metrics.LiquidationsTotal.WithLabelValues(c.Symbol).Inc()
				log.Info().Str("symbol", c.Symbol).Float64("rpnl", c.Rpnl).Msg("position liquidated on price tick")
			}
			if firstPriceBatch {
				firstPriceBatch = false
				log.Info().Int("symbols", len(mids)).Msg("first price update received")
			}
			hub.Broadcast(eng.Snapshot())
		})
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed terminated unexpectedly")
		}
	}()

	go snapshotLoop(ctx, eng, store, time.Duration(cfg.Engine.SnapshotInterval)*time.Second)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if store != nil {
		if err := store.SaveSnapshot(shutdownCtx, eng.Snapshot()); err != nil {
			log.Error().Err(err).Msg("final snapshot save")
		}
	}
}

func snapshotLoop(ctx context.Context, eng *engine.Engine, store *persistence.Store, interval time.Duration) {
	if store == nil || interval <= 0 {
		return
	}
	log := logging.For("snapshot")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := eng.Snapshot()
			if err := store.SaveSnapshot(ctx, snap); err != nil {
				log.Error().Err(err).Msg("snapshot save failed")
				continue
			}
			log.Info().Float64("balance", snap.Balance).Int("positions", len(snap.Positions)).Msg("snapshot saved")
		}
	}
}
