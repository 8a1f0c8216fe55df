package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coursegate/coursegate/api"
	"github.com/coursegate/coursegate/auth"
	"github.com/coursegate/coursegate/config"
	"github.com/coursegate/coursegate/metrics"
	"github.com/coursegate/coursegate/middleware"
	"github.com/coursegate/coursegate/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	// The store client lives here: constructed once, injected below, closed
	// on shutdown. The admission logic never owns a connection.
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.StoreAddr(),
		Password: cfg.StorePassword,
		DB:       cfg.StoreDB,
	})
	defer client.Close()

	bucketStore := store.NewRedisStore(client, store.RedisConfig{
		TTL:     cfg.BucketTTL,
		Timeout: cfg.StoreTimeout,
		Logger:  logger,
	})

	// An unreachable store at boot is not fatal: the gate fails open until
	// it comes back.
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := bucketStore.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.StoreAddr()).
			Msg("bucket store unreachable, admission will fail open")
	} else {
		logger.Info().Str("addr", cfg.StoreAddr()).Msg("connected to bucket store")
	}
	cancel()

	tiers, err := cfg.Tiers()
	if err != nil {
		return fmt.Errorf("policy tiers: %w", err)
	}

	keyFunc := middleware.SourceAddr()
	if cfg.TrustProxy {
		keyFunc = middleware.SourceAddrTrustingProxy()
	}

	failMode := middleware.FailOpen
	if cfg.FailMode == "closed" {
		failMode = middleware.FailClosed
	}

	verifier := auth.NewVerifier(cfg.AuthSecret)
	tracker := metrics.New()

	gate, err := middleware.NewGate(middleware.GateConfig{
		Store:        bucketStore,
		Tiers:        tiers,
		KeyFunc:      keyFunc,
		Authenticate: verifier.Authenticated,
		Recorder:     tracker,
		Logger:       logger,
		CASRetries:   cfg.CASRetries,
		FailMode:     failMode,
	})
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}

	checkHandler := api.NewHandler(gate)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/admission/check", checkHandler.CheckAdmission)
	mux.Handle("/metrics", api.NewMetricsHandler(tracker))
	mux.Handle("/health", api.NewHealthHandler(bucketStore))

	// Every route except health and metrics goes through the gate.
	handler := middleware.RequestLog(logger)(gatedExcept(gate, mux, "/health", "/metrics"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("admission gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

// gatedExcept wraps next with the admission gate for every path not listed.
func gatedExcept(gate *middleware.Gate, next http.Handler, exempt ...string) http.Handler {
	gated := gate.Middleware(next)
	skip := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		skip[path] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		gated.ServeHTTP(w, r)
	})
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger, nil
}
