package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koios/device-bridge/internal/bridge"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var errRateLimited = errors.New("rate limit exceeded")

// wsRequest is a call frame sent by the page
type wsRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params bridge.Params   `json:"params,omitempty"`
}

// wsResponse answers a single wsRequest, matched by ID
type wsResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result bridge.Result   `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// reply queues a frame unless the connection is already gone
func (c *wsClient) reply(resp wsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(wsResponse{ID: resp.ID, Error: err.Error()})
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *wsClient) readPump(onMessage func(raw []byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(raw)
	}
}

// handleWS handles GET /ws - upgrades to a WebSocket carrying bridge calls.
// Calls run concurrently; replies may arrive out of order and carry the
// request id.
func (h *APIHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(h.wsRate, h.wsBurst),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.clients.Store(client.id, client)
	defer h.clients.Delete(client.id)

	logger := h.logger.With(zap.String("conn_id", client.id))
	logger.Info("WebSocket client connected", zap.String("remote", r.RemoteAddr))

	go client.writePump()
	client.readPump(func(raw []byte) {
		h.dispatch(client, logger, raw)
	})

	logger.Info("WebSocket client disconnected")
}

func (h *APIHandler) dispatch(client *wsClient, logger *zap.Logger, raw []byte) {
	var req wsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		client.reply(wsResponse{Error: "invalid message: " + err.Error()})
		return
	}
	if req.Method == "" {
		client.reply(wsResponse{ID: req.ID, Error: "method is required"})
		return
	}
	if !client.limiter.Allow() {
		logger.Warn("WebSocket call rejected", zap.String("method", req.Method), zap.Error(errRateLimited))
		client.reply(wsResponse{ID: req.ID, Method: req.Method, Error: errRateLimited.Error()})
		return
	}
	if !h.pool.Registry().Has(req.Method) {
		client.reply(wsResponse{ID: req.ID, Method: req.Method, Error: bridge.ErrUnknownFunction.Error() + ": " + req.Method})
		return
	}

	go func() {
		result, err := h.pool.Submit(client.ctx, req.Method, req.Params)
		if err != nil {
			logger.Error("WebSocket call failed", zap.String("method", req.Method), zap.Error(err))
			client.reply(wsResponse{ID: req.ID, Method: req.Method, Error: err.Error()})
			return
		}
		client.reply(wsResponse{ID: req.ID, Method: req.Method, Result: result})
	}()
}
