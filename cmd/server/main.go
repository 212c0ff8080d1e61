package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/binarex/option-engine/internal/config"
	"github.com/binarex/option-engine/internal/feed"
	"github.com/binarex/option-engine/internal/metrics"
	"github.com/binarex/option-engine/internal/pricecache"
	"github.com/binarex/option-engine/internal/pricing"
	"github.com/binarex/option-engine/internal/publish"
	"github.com/binarex/option-engine/internal/quote"
	"github.com/binarex/option-engine/internal/settle"
	"github.com/binarex/option-engine/internal/store"
	"github.com/binarex/option-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing engine ---
	engine, err := pricing.NewEngine(cfg.BiasThreshold, cfg.DownMultiplier, cfg.UpMultiplier)
	if err != nil {
		slog.Error("invalid pricing configuration", "err", err)
		os.Exit(1)
	}

	// --- Price cache + upstream feed ---
	cache := pricecache.New()
	conn := feed.NewConnection(cfg.FeedURL, feed.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectBase:     cfg.ReconnectBase,
		MaxReconnects:     cfg.MaxReconnects,
	})
	consumer := feed.NewConsumer(cache)
	go consumer.Run(ctx, conn.Events())
	conn.Start(ctx)
	defer conn.Stop()

	// Track every known symbol from the start.
	if symbols, err := st.ListSymbols(ctx); err == nil {
		for _, sym := range symbols {
			if err := conn.Subscribe(sym.Ticker); err != nil {
				slog.Warn("initial subscribe failed", "ticker", sym.Ticker, "err", err)
			}
		}
	}

	// --- Settlement scheduler ---
	fallback := feed.NewRESTClient(cfg.FeedRESTURL, cfg.FetchTimeout, cfg.FetchRetries)
	scheduler := settle.New(st, cache, engine, fallback, settle.Options{
		RetryDelay:    cfg.SettleRetryDelay,
		MaxRetries:    cfg.SettleMaxRetries,
		EntryExposure: cfg.SettleWithEntryExposure,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()
	if err := scheduler.Recover(ctx); err != nil {
		slog.Error("settlement recovery failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub + publish loop ---
	hub := publish.NewHub()
	go hub.Run()
	quoter := quote.New(cache, st, engine)
	publisher := publish.NewPublisher(cache, st, quoter, hub, cfg.PublishInterval)
	go publisher.Run(ctx)

	// --- Trade service ---
	tradeSvc := trade.NewService(st, quoter, conn, scheduler, cfg.PayoutRatio)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"option-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live published prices.
		r.Get("/ws", hub.HandleWS)

		// Symbols and prices.
		r.Get("/symbols", tradeSvc.HandleListSymbols)
		r.Get("/symbols/{ticker}/price", tradeSvc.HandleGetPrice)

		// Order intake and queries.
		r.Post("/orders", tradeSvc.HandlePlaceOrder)
		r.Get("/orders/unresolved", tradeSvc.HandleListUnresolved)
		r.Get("/orders/{orderID}", tradeSvc.HandleGetOrder)

		// Account queries.
		r.Get("/users/{userID}", tradeSvc.HandleGetUser)
		r.Get("/users/{userID}/orders", tradeSvc.HandleListUserOrders)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("option-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown, and operator alert if the feed dies for good.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-consumer.Down():
		slog.Error("upstream feed is down, shutting down", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down option-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("option-engine stopped")
}
