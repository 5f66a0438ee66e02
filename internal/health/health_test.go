package health

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Nourkes/iot-project/internal/model"
)

func TestReporterFollowsSession(t *testing.T) {
	r := NewReporter("telemetry.Sensor")
	ctx := context.Background()

	steps := []struct {
		state model.SessionState
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{model.Disconnected(), healthpb.HealthCheckResponse_NOT_SERVING},
		{model.Connecting(), healthpb.HealthCheckResponse_NOT_SERVING},
		{model.Connected(), healthpb.HealthCheckResponse_SERVING},
		{model.Failed(model.ReasonTimeout), healthpb.HealthCheckResponse_NOT_SERVING},
		{model.Connected(), healthpb.HealthCheckResponse_SERVING},
	}
	for _, s := range steps {
		r.Update(s.state)
		got, err := r.Check(ctx)
		if err != nil {
			t.Fatalf("%v: %v", s.state, err)
		}
		if got != s.want {
			t.Fatalf("%v: status=%v want %v", s.state, got, s.want)
		}
	}
}

func TestServeOverGRPC(t *testing.T) {
	r := NewReporter("telemetry.Sensor")
	r.Update(model.Connected())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// pick a free port first
	addr := freeAddr(t)
	errc := make(chan error, 1)
	go func() { errc <- r.Serve(ctx, addr) }()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	var resp *healthpb.HealthCheckResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		cctx, ccancel := context.WithTimeout(ctx, 200*time.Millisecond)
		resp, err = client.Check(cctx, &healthpb.HealthCheckRequest{Service: "telemetry.Sensor"})
		ccancel()
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status=%v want SERVING", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
