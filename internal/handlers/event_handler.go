package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/pkg/models"
	"go.uber.org/zap"
)

// EventHandler turns queued bridge requests into bridge results
type EventHandler struct {
	pool   *bridge.WorkerPool
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(pool *bridge.WorkerPool, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		pool:   pool,
		logger: logger,
	}
}

// Handle processes a bridge request event. The returned result is never
// nil; when the call could not be dispatched its Error field is set and the
// error is returned as well.
func (h *EventHandler) Handle(ctx context.Context, request *models.BridgeRequest) (*models.BridgeResult, error) {
	h.logger.Info("Processing bridge request",
		zap.String("method", request.Method),
		zap.String("client_id", request.ClientID),
		zap.String("uuid", request.UUID))

	result := &models.BridgeResult{
		Type:     models.TypeBridgeResult,
		UUID:     request.UUID,
		ClientID: request.ClientID,
		Method:   request.Method,
	}

	if err := h.validate(request); err != nil {
		h.logger.Error("Invalid bridge request", zap.Error(err))
		result.Error = err.Error()
		result.ProcessedAt = time.Now()
		return result, err
	}

	res, err := h.pool.Submit(ctx, request.Method, request.Params)
	result.ProcessedAt = time.Now()
	if err != nil {
		h.logger.Error("Bridge request failed",
			zap.Error(err),
			zap.String("method", request.Method),
			zap.String("client_id", request.ClientID))
		result.Error = err.Error()
		return result, err
	}

	result.Result = res

	h.logger.Info("Bridge request completed successfully",
		zap.String("method", request.Method),
		zap.String("client_id", request.ClientID))

	return result, nil
}

func (h *EventHandler) validate(request *models.BridgeRequest) error {
	if request.Type != models.TypeBridgeRequest {
		return fmt.Errorf("invalid request type: %s", request.Type)
	}
	if request.Method == "" {
		return fmt.Errorf("method is required")
	}
	if request.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if !h.pool.Registry().Has(request.Method) {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownFunction, request.Method)
	}
	return nil
}

// Registry returns the registry behind the handler's worker pool
func (h *EventHandler) Registry() *bridge.Registry {
	return h.pool.Registry()
}
