package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Nourkes/iot-project/internal/config"
	"github.com/Nourkes/iot-project/internal/logging"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/internal/services/dashboard"
	"github.com/Nourkes/iot-project/internal/services/telemetryclient"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

func main() {
	cfg := config.Load()
	root := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the live telemetry dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(root)
	root.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "dashboard listen address")
	root.Flags().IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "readings kept in the history window")
	root.Flags().DurationVar(&cfg.RefreshInterval, "refresh", cfg.RefreshInterval, "buffer poll interval")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := logging.Init(cfg.LogLevel); err != nil {
		return err
	}

	sessCfg, err := cfg.Session()
	if err != nil {
		return err
	}
	session := messaging.NewSession(sessCfg)
	session.OnStateChange(func(st model.SessionState) {
		ev := log.Info()
		if st.Terminal() {
			ev = log.Error()
		}
		ev.Str("state", st.String()).Msg("dashboard: session state")
	})

	client := telemetryclient.New(session, telemetryclient.Config{
		TelemetryTopic: cfg.Topics.Telemetry,
		CommandTopic:   cfg.Topics.Command,
	})
	if err := client.Start(); err != nil {
		return err
	}
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	hub := dashboard.NewHub()
	go hub.Run(ctx)
	svc := dashboard.NewService(client, dashboard.NewHistoryWindow(cfg.HistorySize), hub, cfg.RefreshInterval)
	go svc.Run(ctx)

	server := http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           dashboard.NewRouter(ctx, svc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http: failed to shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("http: listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http: shut down complete")
	return nil
}
