package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Akash16-Sharma/Conversa/internal/config"
	"github.com/Akash16-Sharma/Conversa/internal/db"
	"github.com/Akash16-Sharma/Conversa/internal/handlers"
	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/memstore"
	"github.com/Akash16-Sharma/Conversa/internal/pool"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
	"github.com/Akash16-Sharma/Conversa/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.NewLogger(cfg.Service.Name, cfg.LogLevel)
	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", logging.Err(err))
		os.Exit(1)
	}
	log.Info("server has been successfully stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting server",
		slog.String("env", cfg.Service.Env),
		slog.String("store", cfg.Store),
		slog.String("realtime", cfg.Realtime),
	)
	clock := clockwork.NewRealClock()

	var transport realtime.Transport
	var readiness []func(context.Context) error
	switch cfg.Realtime {
	case config.RealtimeRedis:
		rdb, err := realtime.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		transport = realtime.NewRedisTransport(rdb, log, cfg.Redis.PresenceTTL)
		readiness = append(readiness, func(ctx context.Context) error { return pingRedis(ctx, rdb) })
		log.Info("redis connected")
	default:
		transport = realtime.NewMemoryTransport(log)
	}
	defer transport.Close()

	deps := handlers.Deps{
		Config:    cfg,
		Transport: transport,
		Clock:     clock,
		Log:       log,
	}

	switch cfg.Store {
	case config.StoreMemory:
		store := memstore.New(transport, clock, log)
		deps.Users, deps.Profiles, deps.Chats = store, store, store
		log.Warn("using in-memory store, data is lost on restart")
	default:
		conn, err := db.Connect(ctx, cfg.Postgres, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}

		profiles, err := services.NewProfileService(conn, log)
		if err != nil {
			return err
		}
		deps.Users = services.NewUserService(conn, log)
		deps.Profiles = profiles
		deps.Chats = services.NewChatService(conn, transport, log)
		readiness = append(readiness, conn.Ping)
	}

	screens := pool.New(cfg.Pool.MaxScreensPerUser, log)
	deps.Screens = screens
	deps.Ready = func(ctx context.Context) error {
		for _, check := range readiness {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           handlers.New(deps).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listening: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping the server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// Websocket screens are hijacked connections Shutdown does not track.
		// Their queued writes must land before the store and transport close.
		screens.CloseAll()
		if err := screens.Wait(shutdownCtx); err != nil {
			log.Warn("screens did not finish in time", logging.Err(err))
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
