package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// CreateMatchRequest is the request body for POST /v1/matches.
type CreateMatchRequest struct {
	MatchID    string `json:"match_id,omitempty"` // generated when empty
	WhiteAgent string `json:"white_agent"`
	BlackAgent string `json:"black_agent"`
}

// MatchView is a committed record decorated with remaining time advanced to
// the moment of the read.
type MatchView struct {
	*MatchState
	SideToMove Side     `json:"side_to_move"`
	WhiteNow   *float64 `json:"white_remaining_now,omitempty"`
	BlackNow   *float64 `json:"black_remaining_now,omitempty"`
}

// TickView is the lightweight countdown payload for high-frequency polling.
type TickView struct {
	MatchID    string   `json:"match_id"`
	SideToMove Side     `json:"side_to_move"`
	WhiteNow   *float64 `json:"white_remaining_now,omitempty"`
	BlackNow   *float64 `json:"black_remaining_now,omitempty"`
	IsGameOver bool     `json:"is_game_over"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Uptime  int64  `json:"uptime_seconds"`
}
