package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/logging"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/session"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/surveyapi"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the survey front end",
	RunE:  runServe,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the survey API answers its health endpoint",
	RunE:  runHealth,
}

func newAPIClient() *surveyapi.Client {
	return surveyapi.NewClient(&http.Client{Timeout: cfg.APITimeout}, cfg.APIURL)
}

// sessionSecret returns the configured secret, or in dev mode a random one
// that lasts for this process only.
func sessionSecret() ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	logger.Warn("SESSION_SECRET not set, using a random secret; sessions end on restart")
	return b, nil
}

// newStore picks Redis when REDIS_URL is set and the in-memory store
// otherwise. The returned func releases the store.
func newStore(ctx context.Context) (session.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("session store: memory")
		return session.NewMemoryStore(cfg.SessionTTL), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("session store: redis", zap.String("addr", opts.Addr))
	return session.NewRedisStore(rdb, cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}

// newFrontEnd wires the survey front end. The returned func releases the
// session store.
func newFrontEnd(ctx context.Context) (http.Handler, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	secret, err := sessionSecret()
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := newStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	api := newAPIClient()
	srv, err := web.NewServer(web.Options{
		API:               api,
		Sessions:          session.NewManager(secret, cfg.SessionTTL, cfg.CookieSecure),
		Store:             store,
		Logger:            logger,
		APIURL:            cfg.APIURL,
		PlaybackTolerance: cfg.PlaybackTolerance,
		AllowedOrigins:    cfg.AllowedOrigins,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	// the backend may start after us, so an unhealthy backend is only logged
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if h, err := api.CheckHealth(hctx); err != nil {
		logger.Warn("survey API not reachable yet", zap.String("api", cfg.APIURL), zap.Error(err))
	} else {
		logger.Info("survey API healthy", zap.String("api", cfg.APIURL), zap.String("status", h.Status))
	}
	cancel()

	handler := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(logger),
		middleware.Recoverer,
	)
	return handler, closeStore, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, release, err := newFrontEnd(ctx)
	if err != nil {
		return err
	}
	defer release()

	logger.Info("clap-survey listening", zap.String("port", cfg.Port), zap.String("api", cfg.APIURL))
	return listenAndServe(ctx, ":"+cfg.Port, handler)
}

// listenAndServe runs until ctx is done, then drains in-flight requests.
func listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	h, err := newAPIClient().CheckHealth(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.APIURL, h.Status)
	return nil
}
