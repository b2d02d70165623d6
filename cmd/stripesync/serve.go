package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andrewpillar/stripesync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
)

// serve receives webhook events until the context is cancelled.
func serve(ctx context.Context, e *env) error {
	if e.cfg.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET not set")
	}

	hook := stripesync.NewHookHandler(e.cfg.WebhookSecret, e.syncer, func(err error) {
		e.log.Error("stripe webhook", zap.Error(err))
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/stripe-hook", hook.HandlerFunc)
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              e.cfg.WebhookAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)

	go func() {
		e.log.Info("serving webhooks", zap.String("addr", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}

	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
