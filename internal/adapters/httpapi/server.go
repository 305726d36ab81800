// Package httpapi serves the operator control surface: JSON commands, the status and
// market snapshots, Prometheus metrics and a websocket status feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoTrader/internal/app"
	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const (
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Controller is the part of the engine the surface drives.
type Controller interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	SetMode(ctx context.Context, mode domain.TradingMode) error
	SetUniverse(ctx context.Context, symbols []string)
	SellOne(ctx context.Context, symbol string) error
	PanicSell(ctx context.Context)
	UpdateSettings(ctx context.Context, s domain.Settings) error
	Settings() domain.Settings
	Status(ctx context.Context) app.Status
	MarketOverview(ctx context.Context) []app.MarketView
	Trending(ctx context.Context) []app.TrendView
	Accepting() bool
	Shutdown()
}

var _ Controller = (*app.Engine)(nil)

type modeRequest struct {
	Mode string `json:"mode"`
}

type universeRequest struct {
	Tickers []string `json:"tickers"`
}

type sellOneRequest struct {
	Ticker string `json:"ticker"`
}

// systemConfigRequest mirrors the persisted settings; absent lists are cleared.
type systemConfigRequest struct {
	BlackList      []string `json:"black_list"`
	StopTickers    []string `json:"stop_tickers"`
	ProtectTickers []string `json:"protect_tickers"`
	MaxHoldMinutes int      `json:"max_hold_minutes"`
}

// Server routes HTTP requests to a Controller.
type Server struct {
	ctrl     Controller
	logger   ports.Logger
	gatherer prometheus.Gatherer
	hub      *Hub
	mux      *http.ServeMux
}

// New creates a Server. gatherer may be nil, in which case /metrics is not served.
func New(ctrl Controller, logger ports.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if ctrl == nil || logger == nil {
		return nil, fmt.Errorf("controller and logger are required for the HTTP server")
	}
	s := &Server{
		ctrl:     ctrl,
		logger:   logger,
		gatherer: gatherer,
		hub:      NewHub(logger),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/start", s.guard(s.handleStart))
	s.mux.HandleFunc("POST /api/stop", s.guard(s.handleStop))
	s.mux.HandleFunc("POST /api/mode", s.guard(s.handleMode))
	s.mux.HandleFunc("POST /api/universe", s.guard(s.handleUniverse))
	s.mux.HandleFunc("POST /api/sell_one", s.guard(s.handleSellOne))
	s.mux.HandleFunc("POST /api/panic_sell", s.guard(s.handlePanicSell))
	s.mux.HandleFunc("POST /api/config/system", s.guard(s.handleSystemConfig))
	s.mux.HandleFunc("GET /api/config/system", s.handleGetSystemConfig)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/market", s.handleMarket)
	s.mux.HandleFunc("GET /api/trending", s.handleTrending)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /ws", s.hub)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the routed handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run listens on addr and pushes a status snapshot to websocket clients every pushEvery
// until ctx is canceled. It then marks the controller as shutting down, so commands
// still arriving are refused, and drains the server.
func (s *Server) Run(ctx context.Context, addr string, pushEvery time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	go s.hub.Run(ctx, pushEvery, func() any { return s.ctrl.Status(ctx) })

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Control surface listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("control surface failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.ctrl.Shutdown()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.hub.CloseAll()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("control surface shutdown failed: %w", err)
	}
	return nil
}

// guard refuses commands once the engine is shutting down.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ctrl.Accepting() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "shutting down"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Start(r.Context())
	writeOK(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop(r.Context())
	writeOK(w)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode := domain.TradingMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if mode == "real" {
		mode = domain.ModeLive
	}
	if err := s.ctrl.SetMode(r.Context(), mode); err != nil {
		s.writeError(w, r, "SetMode", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	var req universeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ctrl.SetUniverse(r.Context(), req.Tickers)
	writeOK(w)
}

func (s *Server) handleSellOne(w http.ResponseWriter, r *http.Request) {
	var req sellOneRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.SellOne(r.Context(), req.Ticker); err != nil {
		s.writeError(w, r, "SellOne", err)
		return
	}
	writeOK(w)
}

func (s *Server) handlePanicSell(w http.ResponseWriter, r *http.Request) {
	s.ctrl.PanicSell(r.Context())
	writeOK(w)
}

func (s *Server) handleSystemConfig(w http.ResponseWriter, r *http.Request) {
	var req systemConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.ctrl.UpdateSettings(r.Context(), domain.Settings{
		Blacklist:      req.BlackList,
		StopList:       req.StopTickers,
		Protected:      req.ProtectTickers,
		MaxHoldMinutes: req.MaxHoldMinutes,
	})
	if err != nil {
		s.writeError(w, r, "UpdateSettings", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Settings())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status(r.Context()))
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.MarketOverview(r.Context()))
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Trending(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Accepting() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeOK(w)
}

// decode reads a JSON body. An empty body leaves v at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, "decode", fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, op+" request failed", map[string]interface{}{"path": r.URL.Path})
	}
	writeJSON(w, code, map[string]string{"status": "error", "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrProtectedInstrument):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrConfigurationError), errors.Is(err, ports.ErrOrderInFlight),
		errors.Is(err, ports.ErrCooldownActive):
		return http.StatusConflict
	case errors.Is(err, ports.ErrNotFilled), errors.Is(err, ports.ErrExchangeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
