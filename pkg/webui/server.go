// Package webui HTTP и WebSocket интерфейс софтфона: кнопки действий,
// форма настроек, список устройств и поток статуса.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/webphone/pkg/devices"
	"github.com/arzzra/webphone/pkg/phone"
	"github.com/arzzra/webphone/pkg/settings"
)

const maxBodySize = 64 << 10

// Phone действия контроллера, доступные интерфейсу.
type Phone interface {
	View() phone.View
	StatusLog() []phone.StatusLine
	Settings() settings.ConnectionSettings
	ApplySettings(s settings.ConnectionSettings) error
	Register() error
	Unregister() error
	StartCall(destination string) error
	Answer() error
	Reject() error
	Hangup() error
	ToggleHold(ctx context.Context) error
	Transfer(ctx context.Context, target string) error
	UnlockAudio()
}

// Options параметры сервера
type Options struct {
	Logger *slog.Logger
	// Devices источник списка устройств для /api/devices
	Devices devices.Enumerator
	// Gatherer метрики для /metrics, nil отключает эндпоинт
	Gatherer prometheus.Gatherer
	// ActionTimeout ограничение для удержания и перевода
	ActionTimeout time.Duration
}

// Server HTTP обработчики интерфейса.
type Server struct {
	phone Phone
	store settings.Store
	hub   *Hub
	opts  Options
	log   *slog.Logger
	mux   *http.ServeMux
}

// NewServer собирает маршруты.
func NewServer(p Phone, store settings.Store, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	if opts.Devices == nil {
		opts.Devices = devices.NewRegistry()
	}
	s := &Server{
		phone: p,
		store: store,
		hub:   hub,
		opts:  opts,
		log:   opts.Logger.With(slog.String("component", "webui")),
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler корневой обработчик.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/log", s.handleLog)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handleSaveSettings)
	s.mux.HandleFunc("GET /api/devices", s.handleDevices)

	s.mux.HandleFunc("POST /api/register", s.action(s.phone.Register))
	s.mux.HandleFunc("POST /api/unregister", s.action(s.phone.Unregister))
	s.mux.HandleFunc("POST /api/answer", s.action(s.phone.Answer))
	s.mux.HandleFunc("POST /api/reject", s.action(s.phone.Reject))
	s.mux.HandleFunc("POST /api/hangup", s.action(s.phone.Hangup))
	s.mux.HandleFunc("POST /api/unlock-audio", s.action(func() error {
		s.phone.UnlockAudio()
		return nil
	}))
	s.mux.HandleFunc("POST /api/call", s.handleCall)
	s.mux.HandleFunc("POST /api/hold", s.handleHold)
	s.mux.HandleFunc("POST /api/transfer", s.handleTransfer)

	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", s.handleWS)
	}
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// errorBody тело ответа с ошибкой
type errorBody struct {
	Error *phone.Error `json:"error"`
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Debug("write response", slog.String("error", err.Error()))
	}
}

// jsonError переводит ошибку контроллера в код HTTP.
func (s *Server) jsonError(w http.ResponseWriter, err error) {
	var pe *phone.Error
	if !errors.As(err, &pe) {
		pe = &phone.Error{Code: "INTERNAL", Message: err.Error()}
	}
	status := http.StatusInternalServerError
	switch pe.Category {
	case phone.ErrorCategoryConfig:
		status = http.StatusBadRequest
	case phone.ErrorCategoryState, phone.ErrorCategoryMedia:
		status = http.StatusConflict
	case phone.ErrorCategoryEngine:
		status = http.StatusBadGateway
	}
	s.jsonResponse(w, status, errorBody{Error: pe})
}

func (s *Server) badRequest(w http.ResponseWriter, code, message string) {
	s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: &phone.Error{
		Code: code, Message: message, Category: phone.ErrorCategoryConfig, UserVisible: true,
	}})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}

// action обертка для действий без параметров: ответом служит новое состояние.
func (s *Server) action(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.jsonError(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, s.phone.View())
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.phone.View())
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	lines := s.phone.StatusLog()
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.String())
	}
	s.jsonResponse(w, http.StatusOK, map[string][]string{"lines": out})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.phone.Settings())
}

// handleSaveSettings сохраняет настройки и применяет их: при полных
// настройках агент перерегистрируется, иначе останавливается.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var cs settings.ConnectionSettings
	if err := decode(r, &cs); err != nil {
		s.badRequest(w, "BAD_SETTINGS", "invalid settings body: "+err.Error())
		return
	}
	cs = cs.Normalize()
	if err := s.store.Save(r.Context(), cs); err != nil {
		s.log.Error("save settings", slog.String("error", err.Error()))
		s.jsonResponse(w, http.StatusInternalServerError, errorBody{Error: &phone.Error{
			Code: "SETTINGS_NOT_SAVED", Message: err.Error(),
		}})
		return
	}
	if err := s.phone.ApplySettings(cs); err != nil && !errors.Is(err, phone.ErrIncompleteSettings) {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.phone.View())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Devices.EnumerateDevices(r.Context())
	if err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, errorBody{Error: &phone.Error{
			Code: "DEVICES", Message: err.Error(), Category: phone.ErrorCategoryMedia,
		}})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string][]devices.Device{"devices": list})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "BAD_REQUEST", "invalid body: "+err.Error())
		return
	}
	s.action(func() error { return s.phone.StartCall(req.Destination) })(w, r)
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ActionTimeout)
	defer cancel()
	s.action(func() error { return s.phone.ToggleHold(ctx) })(w, r)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "BAD_REQUEST", "invalid body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ActionTimeout)
	defer cancel()
	s.action(func() error { return s.phone.Transfer(ctx, req.Target) })(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	view := s.phone.View()
	s.hub.serve(w, r,
		Message{Type: MessageView, View: &view},
		Message{Type: MessageLog, Log: s.phone.StatusLog()},
	)
}
