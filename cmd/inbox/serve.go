package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/webhook-inbox/internal/api"
	"github.com/LeventeLantos/webhook-inbox/internal/batch"
	"github.com/LeventeLantos/webhook-inbox/internal/config"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
	"github.com/LeventeLantos/webhook-inbox/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, realtime fan-out and spool poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := realtime.NewHub()

	// With Redis every process publishes to the channel and relays it back
	// into its own hub; publishing to the hub directly as well would
	// deliver each event twice.
	var (
		pubs []realtime.Publisher
		bus  *realtime.RedisBus
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		bus = realtime.NewRedisBus(rdb, cfg.Redis.Channel, hub, logger)
		pubs = append(pubs, bus)
	} else {
		pubs = append(pubs, hub)
	}

	if cfg.AMQP.Enabled {
		amqpPub, err := realtime.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		pubs = append(pubs, amqpPub)
	}

	dispatcher := realtime.NewDispatcher(cfg.Fanout.Buffer, logger, pubs...)

	ingester := service.NewIngester(store,
		service.WithEvents(dispatcher),
		service.WithLogger(logger),
		service.WithBusinessPhone(cfg.Ingest.BusinessPhone),
	)

	var (
		spool   *batch.Spool
		spooler api.Spooler
	)
	if cfg.Spool.Enabled {
		spool, err = batch.NewSpool(cfg.Spool.Dir, cfg.Spool.Interval, batch.NewRunner(ingester, logger), logger)
		if err != nil {
			return err
		}
		spooler = spool
	}

	g, gctx := errgroup.WithContext(ctx)

	h := api.NewHandler(ingester, spooler, hub, logger)
	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(h, api.RouterOptions{
			RequestTimeout: cfg.Server.RequestTimeout,
			CORSOrigins:    cfg.Server.CORSOrigins,
		})),
		ReadHeaderTimeout: 5 * time.Second,
		// open event streams end with the process context
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return dispatcher.Run(gctx) })
	if bus != nil {
		g.Go(func() error { return bus.Run(gctx) })
	}
	if spool != nil {
		g.Go(func() error { return spool.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("inbox listening",
			slog.String("addr", cfg.Server.Address),
			slog.String("store", cfg.Store.Backend),
			slog.Bool("redis", cfg.Redis.Enabled),
			slog.Bool("amqp", cfg.AMQP.Enabled),
			slog.Bool("spool", cfg.Spool.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
