package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/dispatch"
	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/order"
	"github.com/uhyunpark/fixsession/pkg/report"
	"github.com/uhyunpark/fixsession/pkg/trader"
)

// Trader is the slice of *trader.Trader the control API drives.
type Trader interface {
	Mnemonic() string
	Status() trader.Status
	Orders() *order.Client
	Dispatcher() *dispatch.Dispatcher
}

// ReportReader serves report history; *storage.PebbleStore implements it.
type ReportReader interface {
	LoadRecentReports(sessionID string, limit int) ([]*report.ExecutionReport, error)
}

const (
	defaultReportLimit = 50
	maxReportLimit     = 1000
)

// Server handles REST API and WebSocket connections
type Server struct {
	traders map[string]Trader
	reports ReportReader // optional
	router  *mux.Router
	hub     *Hub
	logger  *zap.SugaredLogger
}

// NewServer subscribes the WebSocket hub to every trader's execution reports.
func NewServer(traders []Trader, reports ReportReader, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		traders: make(map[string]Trader, len(traders)),
		reports: reports,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		logger:  logger,
	}
	for _, t := range traders {
		s.traders[t.Mnemonic()] = t
		mnemonic := t.Mnemonic()
		t.Dispatcher().OnReport(func(r *report.ExecutionReport) {
			s.BroadcastReport(mnemonic, r)
		})
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{mnemonic}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{mnemonic}/reports", s.handleGetReports).Methods("GET")

	api.HandleFunc("/sessions/{mnemonic}/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/sessions/{mnemonic}/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/sessions/{mnemonic}/orders/replace", s.handleReplaceOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// BroadcastReport pushes r to subscribers of "reports" and "reports:<mnemonic>".
func (s *Server) BroadcastReport(mnemonic string, r *report.ExecutionReport) {
	update := ReportUpdate{Type: "executionReport", Mnemonic: mnemonic, Report: toReportInfo(r)}
	s.hub.BroadcastToChannel("reports", update)
	s.hub.BroadcastToChannel("reports:"+mnemonic, update)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Trader, bool) {
	name := mux.Vars(r)["mnemonic"]
	t, ok := s.traders[name]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown session", name)
	}
	return t, ok
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	out := make([]trader.Status, 0, len(s.traders))
	for _, t := range s.traders {
		out = append(out, t.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mnemonic < out[j].Mnemonic })
	respondJSON(w, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, t.Status())
}

func (s *Server) handleGetReports(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.reports == nil {
		respondJSON(w, []ReportInfo{})
		return
	}

	limit := defaultReportLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := s.reports.LoadRecentReports(t.Status().Session.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load reports", err.Error())
		return
	}
	out := make([]ReportInfo, len(reports))
	for i, rep := range reports {
		out[i] = toReportInfo(rep)
	}
	respondJSON(w, out)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := fix.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	ordType, err := fix.ParseOrdType(req.OrdType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ordType", err.Error())
		return
	}
	tif, err := fix.ParseTimeInForce(req.TimeInForce)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid timeInForce", err.Error())
		return
	}

	id, err := t.Orders().PlaceOrder(side, req.Price, req.Quantity, ordType, tif)
	s.respondCommand(w, t.Mnemonic(), "place", id, err)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id, err := t.Orders().CancelOrder()
	s.respondCommand(w, t.Mnemonic(), "cancel", id, err)
}

func (s *Server) handleReplaceOrder(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ReplaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	p := order.ReplaceParams{Price: req.Price, Quantity: req.Quantity}
	if req.OrdType != nil {
		ot, err := fix.ParseOrdType(*req.OrdType)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid ordType", err.Error())
			return
		}
		p.OrdType = &ot
	}

	id, err := t.Orders().ReplaceOrder(p)
	s.respondCommand(w, t.Mnemonic(), "replace", id, err)
}

func (s *Server) respondCommand(w http.ResponseWriter, mnemonic, kind, clOrdID string, err error) {
	if err != nil {
		s.logger.Warnw("api_order_rejected", "mnemonic", mnemonic, "kind", kind, "err", err)
		respondError(w, statusFor(err), kind+" failed", err.Error())
		return
	}
	s.logger.Infow("api_order_submitted", "mnemonic", mnemonic, "kind", kind, "cl_ord_id", clOrdID)
	respondJSON(w, OrderCommandResponse{Status: "submitted", ClOrdID: clOrdID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNoActiveOrder):
		return http.StatusConflict
	case errors.Is(err, order.ErrNotLoggedOn), errors.Is(err, order.ErrNoClientID):
		return http.StatusServiceUnavailable
	case errors.Is(err, order.ErrInvalidOrder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

var _ Trader = (*trader.Trader)(nil)
