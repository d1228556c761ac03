package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"CastShelf/app"
	"CastShelf/core/auth"
	"CastShelf/db"
	"CastShelf/logger"
	"CastShelf/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动HTTP服务与后台处理",
	Long:  `启动CastShelf的HTTP API、媒体文件服务、后台处理worker以及定时清理任务`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServer(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	health := func(ctx context.Context) error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if a.Redis != nil {
			return a.Redis.Ping(ctx).Err()
		}
		return nil
	}
	srv := server.New(a.Library, tokens, a.Backend, a.Temp, server.DefaultUploadConfig(), health)

	a.Sweeper.Start(cfg.SweepInterval)
	defer a.Sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		return a.Worker.Run(gctx)
	})

	err = g.Wait()
	logger.Info("castshelf stopped")
	return err
}

// closeDB is used by the one-shot commands that only need the database.
func closeDB() {
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("failed to close database", logger.ErrorField(err))
	}
}
