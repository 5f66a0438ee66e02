// Package dashboard serves the web dashboard: it polls the telemetry client,
// keeps a short history and pushes new readings to browsers.
package dashboard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/model"
)

// Client is the telemetry client as seen by the dashboard.
type Client interface {
	Drain() []model.Reading
	Overflow() uint64
	ConnectionState() model.SessionState
	SendCommand(ctx context.Context, cmd model.Command) (model.DispatchResult, error)
}

type Service struct {
	client  Client
	history *HistoryWindow
	hub     *Hub
	refresh time.Duration

	received atomic.Uint64
	ignored  atomic.Uint64
}

func NewService(client Client, history *HistoryWindow, hub *Hub, refresh time.Duration) *Service {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	return &Service{client: client, history: history, hub: hub, refresh: refresh}
}

// Run polls the client every refresh interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(s.refresh)
	defer t.Stop()
	for {
		s.Refresh()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Refresh drains the client once and returns how many readings entered the
// history.
func (s *Service) Refresh() int {
	accepted := 0
	for _, r := range s.client.Drain() {
		s.received.Add(1)
		if !s.history.Add(r) {
			s.ignored.Add(1)
			continue
		}
		accepted++
		if s.hub != nil {
			s.hub.Broadcast(codec.EncodeReading(r))
		}
	}
	if accepted > 0 {
		log.Debug().Int("accepted", accepted).Int("history", s.history.Len()).Msg("dashboard: refreshed")
	}
	return accepted
}

// State is the body of GET /api/state.
type State struct {
	Connection model.SessionState `json:"connection"`
	Last       *model.Reading     `json:"last,omitempty"`
	History    int                `json:"history"`
	Received   uint64             `json:"received"`
	Ignored    uint64             `json:"ignored"`
	Overflow   uint64             `json:"buffer_overflow"`
}

func (s *Service) State() State {
	st := State{
		Connection: s.client.ConnectionState(),
		History:    s.history.Len(),
		Received:   s.received.Load(),
		Ignored:    s.ignored.Load(),
		Overflow:   s.client.Overflow(),
	}
	if last, ok := s.history.Last(); ok {
		st.Last = &last
	}
	return st
}
