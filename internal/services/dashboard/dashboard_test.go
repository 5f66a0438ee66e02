package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/internal/services/telemetryclient"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func reading(i int) model.Reading {
	return model.Reading{
		DeviceID:       "virtual_sensor_001",
		Timestamp:      base.Add(time.Duration(i) * time.Second),
		Temperature:    20 + float64(i)/4,
		Humidity:       50,
		Battery:        90,
		SignalStrength: -45,
		Status:         model.StatusOnline,
	}
}

type fakeClient struct {
	mu      sync.Mutex
	pending []model.Reading
	state   model.SessionState
	sent    []model.Command
	sendErr error
}

func (c *fakeClient) push(rs ...model.Reading) {
	c.mu.Lock()
	c.pending = append(c.pending, rs...)
	c.mu.Unlock()
}

func (c *fakeClient) Drain() []model.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *fakeClient) Overflow() uint64 { return 3 }

func (c *fakeClient) ConnectionState() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClient) SendCommand(_ context.Context, cmd model.Command) (model.DispatchResult, error) {
	if err := cmd.Validate(); err != nil {
		return model.RejectedResult(err), nil
	}
	if c.sendErr != nil {
		return model.DispatchResult{}, &telemetryclient.PublishError{Action: cmd.Action, Err: c.sendErr}
	}
	c.mu.Lock()
	c.sent = append(c.sent, cmd)
	c.mu.Unlock()
	return model.AppliedResult(), nil
}

func TestHistoryWindow(t *testing.T) {
	h := NewHistoryWindow(3)
	for i := 1; i <= 5; i++ {
		if !h.Add(reading(i)) {
			t.Fatalf("reading %d ignored", i)
		}
	}
	got := h.Snapshot()
	if len(got) != 3 || !got[0].Equal(reading(3)) || !got[2].Equal(reading(5)) {
		t.Fatalf("snapshot=%+v", got)
	}

	if h.Add(reading(5)) {
		t.Fatal("redelivered reading accepted")
	}
	if h.Add(reading(2)) {
		t.Fatal("older reading accepted")
	}
	if last, ok := h.Last(); !ok || !last.Equal(reading(5)) {
		t.Fatalf("last=%+v", last)
	}

	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("len=%d after clear", h.Len())
	}
	if _, ok := h.Last(); ok {
		t.Fatal("last after clear")
	}
	if !h.Add(reading(1)) {
		t.Fatal("history does not accept readings after clear")
	}
}

func TestRefreshKeepsOrder(t *testing.T) {
	fc := &fakeClient{state: model.Connected()}
	s := NewService(fc, NewHistoryWindow(100), nil, time.Second)

	fc.push(reading(1), reading(2), reading(3), reading(4), reading(5))
	if n := s.Refresh(); n != 5 {
		t.Fatalf("accepted=%d want 5", n)
	}
	fc.push(reading(5), reading(6))
	if n := s.Refresh(); n != 1 {
		t.Fatalf("accepted=%d want 1", n)
	}

	hist := s.history.Snapshot()
	for i, r := range hist {
		if !r.Equal(reading(i + 1)) {
			t.Fatalf("history[%d]=%+v", i, r)
		}
	}
	st := s.State()
	if st.History != 6 || st.Received != 7 || st.Ignored != 1 || st.Overflow != 3 {
		t.Fatalf("state=%+v", st)
	}
	if st.Last == nil || !st.Last.Equal(reading(6)) {
		t.Fatalf("last=%+v", st.Last)
	}
}

func TestRunPolls(t *testing.T) {
	fc := &fakeClient{state: model.Connected()}
	s := NewService(fc, NewHistoryWindow(10), nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fc.push(reading(1))
	deadline := time.Now().Add(time.Second)
	for s.history.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reading never polled")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T, fc *fakeClient) (*Service, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	s := NewService(fc, NewHistoryWindow(100), hub, time.Second)
	srv := httptest.NewServer(NewRouter(ctx, s))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return s, srv, cancel
}

func TestAPIState(t *testing.T) {
	fc := &fakeClient{state: model.Failed(model.ReasonTLSHandshakeFailed)}
	s, srv, _ := newTestServer(t, fc)
	fc.push(reading(1))
	s.Refresh()

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Connection != model.Failed(model.ReasonTLSHandshakeFailed) || st.History != 1 {
		t.Fatalf("state=%+v", st)
	}
}

func TestAPIHistory(t *testing.T) {
	fc := &fakeClient{state: model.Connected()}
	s, srv, _ := newTestServer(t, fc)
	fc.push(reading(1), reading(2))
	s.Refresh()

	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	var hist []model.Reading
	err = json.NewDecoder(resp.Body).Decode(&hist)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || !hist[1].Equal(reading(2)) {
		t.Fatalf("history=%+v", hist)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/history", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || s.history.Len() != 0 {
		t.Fatalf("status=%d len=%d", resp.StatusCode, s.history.Len())
	}
}

func TestAPICommands(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		sendErr error
		want    int
	}{
		{"set interval", `{"action":"set_interval","value":10}`, nil, http.StatusAccepted},
		{"reboot", `{"action":"reboot"}`, nil, http.StatusAccepted},
		{"invalid value", `{"action":"set_interval","value":0}`, nil, http.StatusUnprocessableEntity},
		{"unknown action", `{"action":"fly"}`, nil, http.StatusUnprocessableEntity},
		{"malformed", `{"action":`, nil, http.StatusBadRequest},
		{"missing action", `{"value":3}`, nil, http.StatusBadRequest},
		{"not connected", `{"action":"reboot"}`, messaging.ErrNotConnected, http.StatusServiceUnavailable},
		{"broker error", `{"action":"reboot"}`, errors.New("ack timeout"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{state: model.Connected(), sendErr: tt.sendErr}
			_, srv, _ := newTestServer(t, fc)

			resp, err := http.Post(srv.URL+"/api/commands", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusAccepted && len(fc.sent) != 1 {
				t.Fatalf("sent=%d want 1", len(fc.sent))
			}
		})
	}
}

func TestHealthAndReady(t *testing.T) {
	fc := &fakeClient{state: model.Connecting()}
	_, srv, _ := newTestServer(t, fc)

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	if code, body := get("/healthz"); code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("healthz=%d %v", code, body)
	}
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want 503", code)
	}

	fc.mu.Lock()
	fc.state = model.Connected()
	fc.mu.Unlock()
	if code, body := get("/healthz"); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz=%d %v", code, body)
	}
	if code, body := get("/readyz"); code != http.StatusOK || body["ready"] != true {
		t.Fatalf("readyz=%d %v", code, body)
	}
}

func TestStaticAndMetrics(t *testing.T) {
	fc := &fakeClient{state: model.Connected()}
	_, srv, _ := newTestServer(t, fc)

	for _, path := range []string{"/", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
	}
}

func TestWebsocketStream(t *testing.T) {
	fc := &fakeClient{state: model.Connected()}
	s, srv, _ := newTestServer(t, fc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for s.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	fc.push(reading(1), reading(2))
	s.Refresh()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 1; i <= 2; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		r, err := codec.DecodeReading(msg)
		if err != nil {
			t.Fatal(err)
		}
		if !r.Equal(reading(i)) {
			t.Fatalf("got %+v want %+v", r, reading(i))
		}
	}
}
