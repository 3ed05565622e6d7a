package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskline/mailsync/internal/api"
	"github.com/deskline/mailsync/internal/blob"
	"github.com/deskline/mailsync/internal/syncer"
	ws "github.com/deskline/mailsync/internal/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func registerServe(app *cli.App) {
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API, the media workers and the configured syncs",
		Action: serve,
	})
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := ws.NewHub(10)
	defer hub.CloseAll()

	opts := syncer.DefaultOptions()
	opts.PollInterval = a.cfg.PollInterval
	opts.IdleStartDelay = a.cfg.IdleStartDelay
	registry := syncer.NewRegistry(ctx, func(mailboxID string) *syncer.Coordinator {
		return syncer.NewCoordinator(mailboxID, a.ingest, a.fetcher, a.creds, hub, opts)
	})
	defer registry.StopAll()

	for _, mc := range a.cfg.Mailboxes {
		if mc.Autostart {
			registry.Start(mc.ID)
		}
	}

	var blobs blob.Store
	if a.fsBlobs != nil {
		blobs = a.blobs
	}
	handler := api.NewRouter(api.Deps{
		APIToken:  a.cfg.APIToken,
		Mailboxes: a.store,
		Syncs:     registry,
		Ingester:  a.ingest,
		Repairs:   a.repairs,
		Hub:       hub,
		Blobs:     blobs,
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.worker.Run(gctx)
	})
	g.Go(func() error {
		log.WithFields(log.Fields{"address": srv.Addr, "environment": a.cfg.Environment}).Info("server_starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server_stopped")
	return nil
}
