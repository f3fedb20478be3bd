package models

import "time"

// Message types carried on the queue transports
const (
	TypeBridgeRequest = "bridge_request"
	TypeBridgeResult  = "bridge_result"
)

// BridgeRequest represents a request to invoke a bridge function
type BridgeRequest struct {
	Type     string         `json:"type"`
	UUID     string         `json:"uuid"`
	ClientID string         `json:"client_id"`
	Method   string         `json:"method"`
	Params   map[string]any `json:"params,omitempty"`
}

// BridgeResult represents the outcome of a bridge call
type BridgeResult struct {
	Type        string         `json:"type"`
	UUID        string         `json:"uuid"`
	ClientID    string         `json:"client_id"`
	Method      string         `json:"method"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// FunctionInfo describes a registered bridge function
type FunctionInfo struct {
	Name string `json:"name"`
}
