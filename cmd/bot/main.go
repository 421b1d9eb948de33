package main

import (
	"context"
	"log"

	"arb_bot/internal/exchange"
	"arb_bot/internal/modules/config"
	"arb_bot/internal/modules/engine"
	"arb_bot/internal/modules/executor"
	"arb_bot/internal/modules/feed"
	"arb_bot/internal/modules/gate"
	"arb_bot/internal/modules/journal"
	"arb_bot/internal/modules/monitor"
	"arb_bot/internal/modules/positions"
	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/internal/modules/reconcile"
	"arb_bot/internal/modules/webhook"
	"arb_bot/internal/notify"
	"arb_bot/pkg/logger"
	"arb_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
)

func newNotifier(lc fx.Lifecycle, cfg *config.Config, keeper *possvc.Keeper) (notify.Notifier, error) {
	if cfg.TelegramToken == "" {
		return notify.NewStdout(), nil
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, keeper)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return tg.Start(ctx) },
		OnStop: func(ctx context.Context) error {
			tg.Stop()
			return nil
		},
	})
	return tg, nil
}

func newTracer(lc fx.Lifecycle, cfg *config.Config) (opentracing.Tracer, error) {
	logger.Init(cfg.LogFile)

	if cfg.JaegerHost == "" {
		return opentracing.NoopTracer{}, nil
	}
	tracer, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.JaegerHost, Port: cfg.JaegerPort})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closer()
			return nil
		},
	})
	return tracer, nil
}

func main() {
	app := fx.New(
		fx.Provide(
			exchange.NewClient,
			newNotifier,
			newTracer,
		),
		config.Module(),
		positions.Module(),
		feed.Module(),
		reconcile.Module(),
		engine.Module(),
		executor.Module(),
		gate.Module(),
		journal.Module(),
		webhook.Module(),
		monitor.Module(),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}
