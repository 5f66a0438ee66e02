package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Nourkes/iot-project/internal/config"
	"github.com/Nourkes/iot-project/internal/logging"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/internal/services/recorder"
	"github.com/Nourkes/iot-project/internal/services/subscriber"
	"github.com/Nourkes/iot-project/internal/services/telemetryclient"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

func main() {
	cfg := config.Load()
	root := &cobra.Command{
		Use:   "subscriber",
		Short: "Print sensor telemetry and send commands from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(root)

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
		log.Info().Str("state", st.String()).Msg("subscriber: session state")
	})

	client := telemetryclient.New(session, telemetryclient.Config{
		TelemetryTopic: cfg.Topics.Telemetry,
		CommandTopic:   cfg.Topics.Command,
	})
	if err := client.Start(); err != nil {
		return err
	}

	var rec subscriber.Recorder
	if cfg.Influx.Enabled() {
		r, err := recorder.New(recorder.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			return err
		}
		defer r.Close()
		rec = r
		log.Info().Str("url", cfg.Influx.URL).Msg("subscriber: recording readings to influx")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	svc := subscriber.NewService(client, rec, os.Stdout)
	go func() {
		if err := svc.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("subscriber: watch stopped")
		}
	}()

	os.Stdout.WriteString(subscriber.Help + "\n")
	// the prompt returns on q or EOF; signals cancel ctx
	go func() {
		if err := svc.Prompt(ctx, os.Stdin); err != nil {
			log.Error().Err(err).Msg("subscriber: prompt")
		}
		cancel()
	}()

	<-ctx.Done()
	return nil
}
