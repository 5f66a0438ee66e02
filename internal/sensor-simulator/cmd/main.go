package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Nourkes/iot-project/internal/config"
	"github.com/Nourkes/iot-project/internal/health"
	"github.com/Nourkes/iot-project/internal/logging"
	"github.com/Nourkes/iot-project/internal/model"
	sensorSimulator "github.com/Nourkes/iot-project/internal/sensor-simulator"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

func main() {
	cfg := config.Load()
	root := &cobra.Command{
		Use:   "sensor-sim",
		Short: "Run the virtual sensor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(root)
	f := root.Flags()
	f.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier")
	f.DurationVar(&cfg.SamplingInterval, "interval", cfg.SamplingInterval, "initial sampling interval")
	f.DurationVar(&cfg.RebootSettle, "reboot-settle", cfg.RebootSettle, "time spent rebooting")
	f.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "metrics listen address")
	f.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address")

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

	if cfg.MQTT.ClientID == "" {
		// stable id: the broker keeps the QoS1 session across restarts
		cfg.MQTT.ClientID = cfg.DeviceID
	}
	sessCfg, err := cfg.Session()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := messaging.NewSession(sessCfg)
	reporter := health.NewReporter("telemetry.Sensor")
	session.OnStateChange(reporter.Update)
	session.OnStateChange(func(st model.SessionState) {
		ev := log.Info()
		if st.Terminal() {
			ev = log.Error()
		}
		ev.Str("state", st.String()).Msg("sensor: session state")
	})

	go func() {
		if err := reporter.Serve(ctx, cfg.GRPCAddr); err != nil {
			log.Error().Err(err).Msg("sensor: gRPC health stopped")
		}
	}()
	go serveMetrics(ctx, cfg.HTTPAddr)

	sensor := sensorSimulator.NewSensor(cfg.DeviceID,
		sensorSimulator.WithInterval(cfg.SamplingInterval),
		sensorSimulator.WithSettleDelay(cfg.RebootSettle),
	)
	// shutdown runs on the delivery goroutine; cancelling lets the loop and
	// the session wind down outside of it
	dispatcher := sensorSimulator.NewDispatcher(sensor, cancel)

	publisher := messaging.NewPublisher(session, cfg.Topics.Telemetry)
	consumer := messaging.NewConsumer(session, cfg.Topics.Command, nil)
	sim := sensorSimulator.NewSensorSimulator(consumer, publisher, sensor, dispatcher)

	if err := session.Connect(ctx); err != nil {
		return err
	}
	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("telemetry", cfg.Topics.Telemetry).
		Str("command", cfg.Topics.Command).
		Dur("interval", cfg.SamplingInterval).
		Msg("sensor: started")

	sim.Start(ctx)
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	server := http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("sensor: metrics server")
	}
}
