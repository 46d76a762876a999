// Package hubrpc exposes MarketDataHub's get/update contract over an
// authenticated loopback HTTP+JSON surface, so a future split into
// separate producer/consumer binaries only needs to swap this process's
// in-memory hub client for an HTTP one. Adapted from the teacher's
// internal/api/websocket.go Hub/Client register-and-broadcast pattern,
// repurposed from a fan-out WebSocket broadcaster into a request/response
// REST surface matching the hub's own method set one for one.
package hubrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

// Server is the loopback HTTP server re-exposing a *hub.Hub.
type Server struct {
	logger     *zap.Logger
	cfg        config.HubRPCConfig
	hub        *hub.Hub
	router     *mux.Router
	httpServer *http.Server
}

// New constructs a Server with its routes already registered.
func New(logger *zap.Logger, cfg config.HubRPCConfig, h *hub.Hub) *Server {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		hub:    h,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router.PathPrefix("/hub").Subrouter()
	r.Use(s.authenticate)

	r.HandleFunc("/tick/{instrument}", s.handleGetTick).Methods(http.MethodGet)
	r.HandleFunc("/candles/{instrument}/{timeframe}", s.handleGetCandles).Methods(http.MethodGet)
	r.HandleFunc("/orderflow/{instrument}", s.handleGetOrderFlow).Methods(http.MethodGet)
	r.HandleFunc("/ta/{instrument}", s.handleGetTA).Methods(http.MethodGet)
	r.HandleFunc("/staleness/{instrument}", s.handleGetStaleness).Methods(http.MethodGet)

	r.HandleFunc("/tick", s.handlePostTick).Methods(http.MethodPost)
	r.HandleFunc("/candle", s.handlePostCandle).Methods(http.MethodPost)
	r.HandleFunc("/orderflow", s.handlePostOrderFlow).Methods(http.MethodPost)
	r.HandleFunc("/ta", s.handlePostTA).Methods(http.MethodPost)
}

// authenticate rejects any request whose Authorization header does not
// carry the configured bearer token. An empty configured token disables
// the check (loopback-only development mode) but still requires the
// header be absent, not merely wrong, to avoid silently downgrading a
// misconfigured deployment into an open one.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BearerToken == "" {
			if r.Header.Get("Authorization") != "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.cfg.BearerToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. It blocks until the server stops or errors, so
// callers run it in its own goroutine.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s.logger.Info("hub rpc server starting", zap.String("addr", s.cfg.ListenAddr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetTick(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	t, ok := s.hub.GetLatestTick(instrument)
	if !ok {
		http.Error(w, "no tick for instrument", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	candles := s.hub.GetLatestCandles(vars["instrument"], vars["timeframe"], limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"candles": candles})
}

func (s *Server) handleGetOrderFlow(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	m, ok := s.hub.GetLatestOrderFlow(instrument)
	if !ok {
		http.Error(w, "no order flow snapshot for instrument", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetTA(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	snap, ok := s.hub.GetLatestTA(instrument)
	if !ok {
		http.Error(w, "no ta snapshot for instrument", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetStaleness(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1m"
	}
	st := s.hub.CheckStaleness(vars["instrument"], timeframe, time.Now().UTC())
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePostTick(w http.ResponseWriter, r *http.Request) {
	var t types.Tick
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "invalid tick payload", http.StatusBadRequest)
		return
	}
	s.hub.UpdateTick(t)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostCandle(w http.ResponseWriter, r *http.Request) {
	var c types.Candle
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid candle payload", http.StatusBadRequest)
		return
	}
	s.hub.UpdateCandle(c)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostOrderFlow(w http.ResponseWriter, r *http.Request) {
	var m types.OrderFlowMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid order flow payload", http.StatusBadRequest)
		return
	}
	s.hub.UpdateOrderFlow(m)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostTA(w http.ResponseWriter, r *http.Request) {
	var snap types.TAIndicatorSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "invalid ta payload", http.StatusBadRequest)
		return
	}
	s.hub.UpdateTA(snap)
	w.WriteHeader(http.StatusNoContent)
}
