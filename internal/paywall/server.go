package paywall

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentpeek/rentpeek/internal/logging"
	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
	"github.com/rentpeek/rentpeek/internal/paywall/notify"
	"github.com/rs/zerolog/log"
)

// Run starts the paywall HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "paywall",
	})

	log.Info().Str("version", version).Msg("Starting Rentpeek paywall service")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := ledger.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open entitlement store: %w", err)
	}
	defer store.Close()

	// Purchase notifications are a fire-and-forget sink; without a provider
	// configured they land in the log.
	notifier := notify.NewLogSender(func(event notify.PurchaseConfirmed) {
		log.Info().
			Str("event_id", event.EventID).
			Str("user_id", event.UserID).
			Str("property_id", event.PropertyID).
			Str("payment_ref", event.PaymentRef).
			Int64("amount_cents", event.AmountCents).
			Msg("Purchase confirmed (log-only notification sink)")
	})

	mux := http.NewServeMux()
	deps := &Deps{
		Config:   cfg,
		Store:    store,
		Notifier: notifier,
		Version:  version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Msg("Paywall service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Paywall service stopped")
	return nil
}
