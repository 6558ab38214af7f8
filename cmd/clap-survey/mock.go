package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/logging"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/mockapi"
)

var mockAPICmd = &cobra.Command{
	Use:   "mock-api",
	Short: "Run a stand-in survey API for local development",
	Long: `mock-api serves /health, /login, /next-song, /submit and /audio/.
Songs come from MOCK_CATALOG (YAML) or, when unset, from the audio files in
MOCK_AUDIO_DIR. MOCK_ALLOWED_WORKERS restricts who may log in. Progress lives
in memory unless MOCK_DB names a SQLite file.`,
	RunE: runMockAPI,
}

// newMockAPI builds the development backend handler. The returned func
// closes its progress store.
func newMockAPI() (http.Handler, func(), error) {
	var (
		songs []mockapi.Song
		err   error
	)
	if cfg.Mock.Catalog != "" {
		songs, err = mockapi.LoadCatalog(cfg.Mock.Catalog)
	} else {
		songs, err = mockapi.ScanAudioDir(cfg.Mock.AudioDir)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(songs) == 0 {
		logger.Warn("mock catalogue is empty, every worker is complete at once")
	}

	opts := mockapi.Options{
		Songs:          songs,
		AllowedWorkers: cfg.Mock.AllowedWorkers,
		AudioDir:       cfg.Mock.AudioDir,
		Logger:         logger.Named("mock-api"),
	}
	release := func() {}
	if cfg.Mock.Database != "" {
		db, err := mockapi.NewSQLiteProgress(cfg.Mock.Database)
		if err != nil {
			return nil, nil, err
		}
		opts.Progress = db
		release = func() { _ = db.Close() }
	}

	logger.Info("mock-api ready",
		zap.Int("songs", len(songs)),
		zap.Int("allowed_workers", len(cfg.Mock.AllowedWorkers)),
		zap.String("database", cfg.Mock.Database),
	)
	handler := mockapi.New(opts).Router(middleware.RequestID, logging.Middleware(logger.Named("mock-api")), middleware.Recoverer)
	return handler, release, nil
}

func runMockAPI(cmd *cobra.Command, args []string) error {
	handler, release, err := newMockAPI()
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mock-api listening", zap.String("port", cfg.Mock.Port))
	return listenAndServe(ctx, ":"+cfg.Mock.Port, handler)
}
