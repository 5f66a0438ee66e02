package dashboard

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Nourkes/iot-project/internal/codec"
	"github.com/Nourkes/iot-project/internal/model"
	"github.com/Nourkes/iot-project/internal/services/telemetryclient"
	"github.com/Nourkes/iot-project/pkg/messaging"
)

//go:embed static
var staticFiles embed.FS

const maxCommandBody = 4 << 10

// NewRouter wires the HTTP API. ctx bounds the websocket connections.
func NewRouter(ctx context.Context, s *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/commands", s.handleCommand)
	})
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS(ctx))
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	static, _ := fs.Sub(staticFiles, "static")
	r.Handle("/*", http.FileServer(http.FS(static)))
	return r
}

func (s *Service) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.State())
}

func (s *Service) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.history.Snapshot())
}

func (s *Service) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.history.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	cmd, err := codec.DecodeCommand(body)
	if err != nil {
		var de *codec.DecodeError
		eb := errorBody{Error: err.Error()}
		if errors.As(err, &de) {
			eb.Kind, eb.Field = string(de.Kind), de.Field
		}
		writeJSON(w, http.StatusBadRequest, eb)
		return
	}

	res, err := s.client.SendCommand(r.Context(), cmd)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, messaging.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		var pe *telemetryclient.PublishError
		if errors.As(err, &pe) {
			log.Warn().Err(pe.Err).Str("action", string(pe.Action)).Msg("dashboard: command not sent")
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	if !res.IsApplied() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status     string             `json:"status"`
		Connection model.SessionState `json:"connection"`
		History    int                `json:"history"`
	}
	st := status{Connection: s.client.ConnectionState(), History: s.history.Len()}
	switch {
	case st.Connection.Status == model.SessionConnected:
		st.Status = "ok"
	case st.Connection.Terminal():
		st.Status = "down"
	default:
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReady answers 200 only while the broker connection is up.
func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.client.ConnectionState().Status == model.SessionConnected
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Ready bool `json:"ready"`
	}{ready})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("dashboard: write response")
	}
}
