package webhook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"arb_bot/internal/modules/config"
	"arb_bot/internal/modules/webhook/service"
	"arb_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewMux(h *service.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", h.Webhook)
	mux.HandleFunc("/positions", h.Positions)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/auto-short", h.AutoShort)
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("webhook server listening on %s", addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(
			service.NewHandler,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
