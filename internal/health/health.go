// Package health exposes the session state through the standard gRPC health
// service, so orchestrators can probe the sensor process.
package health

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Nourkes/iot-project/internal/model"
)

// Reporter mirrors a session state onto a gRPC health server. Both the
// overall status ("") and the named service follow the session.
type Reporter struct {
	srv     *health.Server
	service string
}

func NewReporter(service string) *Reporter {
	r := &Reporter{srv: health.NewServer(), service: service}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Update is meant to be registered with Session.OnStateChange.
func (r *Reporter) Update(st model.SessionState) {
	if st.Status == model.SessionConnected {
		r.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Check answers like a remote health client would.
func (r *Reporter) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: r.service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (r *Reporter) set(s healthpb.HealthCheckResponse_ServingStatus) {
	r.srv.SetServingStatus("", s)
	r.srv.SetServingStatus(r.service, s)
}

// Serve runs a gRPC server with the health service on addr until ctx is done.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, r.srv)

	go func() {
		<-ctx.Done()
		r.srv.Shutdown()
		gs.GracefulStop()
	}()

	log.Info().Str("addr", lis.Addr().String()).Msg("health: gRPC health serving")
	if err := gs.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
