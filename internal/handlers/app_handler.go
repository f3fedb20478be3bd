package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/pkg/models"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodySize = 64 * 1024

// APIHandler exposes the bridge over HTTP and WebSocket
type APIHandler struct {
	pool     *bridge.WorkerPool
	platform string
	logger   *zap.Logger

	upgrader websocket.Upgrader
	wsRate   rate.Limit
	wsBurst  int
	clients  *xsync.Map[string, *wsClient]
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(pool *bridge.WorkerPool, platformName string, cfg config.ServerConfig, logger *zap.Logger) *APIHandler {
	wsRate := rate.Limit(cfg.WSRate)
	if cfg.WSRate <= 0 {
		wsRate = rate.Inf
	}
	wsBurst := cfg.WSBurst
	if wsBurst <= 0 {
		wsBurst = 1
	}

	return &APIHandler{
		pool:     pool,
		platform: platformName,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		wsRate:  wsRate,
		wsBurst: wsBurst,
		clients: xsync.NewMap[string, *wsClient](),
	}
}

// Routes builds the router for all bridge endpoints
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/functions", h.handleFunctions)
	r.Post("/bridge/{method}", h.handleCall)
	r.Get("/ws", h.handleWS)

	return r
}

// handleHealth handles GET /health - returns service health status
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "device-bridge",
		"version":     "1.0.0",
		"platform":    h.platform,
		"connections": h.clients.Size(),
	})
}

// handleFunctions handles GET /functions - lists registered bridge functions
func (h *APIHandler) handleFunctions(w http.ResponseWriter, r *http.Request) {
	names := h.pool.Registry().Names()
	functions := make([]models.FunctionInfo, 0, len(names))
	for _, name := range names {
		functions = append(functions, models.FunctionInfo{Name: name})
	}

	writeJSON(w, http.StatusOK, functions)
	h.logger.Debug("Served function list", zap.Int("count", len(functions)))
}

// handleCall handles POST /bridge/{method} - invokes a bridge function. The
// optional JSON object body becomes the call params.
func (h *APIHandler) handleCall(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	if !h.pool.Registry().Has(method) {
		writeError(w, http.StatusNotFound, "Function not found")
		return
	}

	params, err := decodeParams(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("Failed to decode call params",
			zap.String("method", method),
			zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.pool.Submit(r.Context(), method, params)
	if err != nil {
		h.logger.Error("Bridge call failed",
			zap.String("method", method),
			zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
	h.logger.Debug("Bridge call served", zap.String("method", method))
}

// CloseConnections drops every open WebSocket connection
func (h *APIHandler) CloseConnections() {
	h.clients.Range(func(_ string, c *wsClient) bool {
		c.close()
		return true
	})
}

func decodeParams(body io.Reader) (bridge.Params, error) {
	var params bridge.Params
	err := json.NewDecoder(body).Decode(&params)
	if errors.Is(err, io.EOF) {
		return bridge.Params{}, nil
	}
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = bridge.Params{}
	}
	return params, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnknownFunction):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs each request through zap
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
