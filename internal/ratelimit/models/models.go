// Package models defines the rate-limit classes and results shared by the
// stores and middleware.
package models

import "time"

// EndpointClass groups routes that share a budget.
type EndpointClass string

const (
	ClassCapture EndpointClass = "capture"
	ClassSync    EndpointClass = "sync"
	ClassRead    EndpointClass = "read"
)

// Limit is a sliding-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
