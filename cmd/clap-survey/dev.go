package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the front end and the mock API together",
	Long: `dev starts mock-api on MOCK_PORT and the front end on PORT in one
process, with API_URL pointed at the mock. A random session secret is used
when SESSION_SECRET is unset. Either server failing stops both.`,
	RunE: runDev,
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg.Dev = true
	cfg.APIURL = "http://localhost:" + cfg.Mock.Port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mock, releaseMock, err := newMockAPI()
	if err != nil {
		return err
	}
	defer releaseMock()

	front, releaseFront, err := newFrontEnd(ctx)
	if err != nil {
		return err
	}
	defer releaseFront()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mock-api listening", zap.String("port", cfg.Mock.Port))
		return listenAndServe(gctx, ":"+cfg.Mock.Port, mock)
	})
	g.Go(func() error {
		logger.Info("clap-survey listening", zap.String("port", cfg.Port), zap.String("api", cfg.APIURL))
		return listenAndServe(gctx, ":"+cfg.Port, front)
	})
	return g.Wait()
}
