package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/admin"
	"github.com/m3rciful/flowbot/core/bootstrap"
	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService()
		},
	}
}

func runService() error {
	loadEnv()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res.Close(closeCtx)
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	sweeper := engine.NewSweeper(res.Engine, cfg.Engine.SweepInterval)
	go sweeper.Run(ctx)

	if cfg.Admin.Enabled {
		adm := admin.New(admin.Options{
			Listen:    cfg.Admin.Listen,
			Scenarios: res.Scenarios,
			Gatherer:  res.Registry,
		})
		go func() {
			if err := adm.Run(ctx); err != nil {
				logger.Error(ctx, "admin", "stopped", slog.String("err", err.Error()))
			}
		}()
	}

	startedAt := time.Now()
	return telegram.RunTelegram(ctx, telegram.RunOptions{
		Config: cfg,
		Engine: res.Engine,
		OnStart: func(ctx context.Context, bot *tele.Bot) error {
			res.Channel.Bind(telegram.NewChannel(bot))
			logger.Info(ctx, "app", "ready",
				slog.Int("scenarios", len(res.Scenarios.List())),
				slog.Duration("startup", logger.RoundMS(time.Since(startedAt))),
			)
			return nil
		},
	})
}
