package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker_go/internal/app"
	"broker_go/internal/book"
	"broker_go/internal/detector"
	"broker_go/internal/event"
	"broker_go/internal/hub"
	"broker_go/internal/notify"
	"broker_go/internal/ops"
	"broker_go/internal/tracker"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config
	store := bootstrap.Store

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Notification Dispatcher (external channel behind the breaker)
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(notifier, notify.Options{
		QueueCapacity:  cfg.Notify.QueueCapacity,
		SendTimeout:    cfg.SendTimeout(),
		CooldownWindow: cfg.CooldownWindow(),
		Breaker:        cfg.BreakerConfig(),
		RateBurst:      cfg.Notify.RateLimit.Burst,
		RatePerSecond:  cfg.Notify.RateLimit.PerSecond,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	slog.Info("✅ Notification dispatcher started")

	// 5. Broadcast hub, price tracker, change detector
	h := hub.New(nil, nil)
	trk := tracker.New(dispatcher, h)
	det := detector.New(store, h, detector.Config{
		Interval:    cfg.PollInterval(),
		ReadTimeout: cfg.ReadTimeout(),
	}, trk.OnCycle)
	h.SetMonitor(det)
	h.SetSnapshotFunc(func(sctx context.Context, instrumentID string) (event.InitialSnapshotEvent, error) {
		orders, err := store.ListRestingOrders(sctx, instrumentID)
		if err != nil {
			return event.InitialSnapshotEvent{}, err
		}
		b := book.Compute(instrumentID, orders, time.Now())
		snap := event.InitialSnapshotEvent{
			BaseEvent: event.BaseEvent{InstrumentID: instrumentID, Ts: time.Now()},
			Buys:      b.Buys,
			Sells:     b.Sells,
		}
		if dp, ok := trk.DiscoveredFor(instrumentID); ok {
			snap.Discovered = &dp
		} else {
			snap.Discovered = b.Discovered
		}
		return snap, nil
	})

	// The tracker is a permanent subscriber: price discovery keeps
	// running whether or not a real-time client is attached.
	det.AddSubscriber()
	defer det.RemoveSubscriber()
	slog.Info("✅ Change detector started", slog.Duration("interval", cfg.PollInterval()))

	// 6. HTTP surface: websocket feed + operational endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	ops.NewHandler(dispatcher, det, trk).Register(mux)

	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		slog.Info("✅ Server listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ Price-discovery engine fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown error", slog.Any("error", err))
	}
}
