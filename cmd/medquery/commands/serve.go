package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/server"
)

// NewServeCmd constructs the `medquery serve` command, which builds or loads
// the corpus index and then starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var rateLimit float64
	var rateBurst int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MedQuery HTTP API",
		Long: `Start the MedQuery HTTP server.

The corpus index is built or loaded before the server accepts traffic.
Each client conversation is a session; pass the session id returned by
POST /api/chat with follow-up questions.

Endpoints:
  POST /api/chat       {session, message} -> {session, answer, sources, turn, failed}
  POST /api/feedback   {session, turn, verdict, comment}
  POST /api/reset      {session}
  GET  /api/history    ?session=<id>
  GET  /api/health     liveness
  GET  /api/ready      dependency readiness
  GET  /metrics        Prometheus metrics

Set MEDQUERY_API_KEY to require "Authorization: Bearer <key>" on /api/*.

Examples:
  medquery serve
  medquery serve --port 9090
  MODEL_PROVIDER=azure medquery serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(ctx, log, runtimeOptions{Chat: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)
			manager := chat.NewManager(rt.sessionFactory(metrics), chat.Limits{
				IdleTTL:     rt.settings.SessionIdleTTL,
				MaxSessions: rt.settings.MaxSessions,
			})
			stopJanitor := manager.StartJanitor(ctx, time.Minute)
			defer stopJanitor()
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := manager.Close(closeCtx); err != nil {
					log.Warn("serve: failed to close sessions", slog.Any("error", err))
				}
			}()

			cfg := &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     rt.pingers(),
				RateLimit:   rateLimit,
				RateBurst:   rateBurst,
				APIKey:      os.Getenv("MEDQUERY_API_KEY"),
				Metrics:     metrics,
				ChatTimeout: rt.settings.GenerationTimeout + time.Minute,
			}
			if rt.transcripts != nil {
				cfg.Transcripts = rt.transcripts
			}

			srv, err := server.New(manager, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Sustained /api/chat requests per second per client IP (default 10)")
	cmd.Flags().IntVar(&rateBurst, "rate-burst", 0, "Maximum /api/chat burst per client IP (default 20)")

	return cmd
}
