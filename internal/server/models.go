package server

import "github.com/skovale/briefgen/internal/research"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// SubmitBriefRequest represents a research submission payload.
type SubmitBriefRequest struct {
	Topic    string `json:"topic"`
	Depth    int    `json:"depth"`
	FollowUp bool   `json:"follow_up"`
	UserID   string `json:"user_id"`
}

// SubmitBriefResponse acknowledges an accepted research job.
type SubmitBriefResponse struct {
	BriefID string `json:"brief_id"`
	Topic   string `json:"topic"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BriefStatusResponse is the full brief record plus the pipeline position.
type BriefStatusResponse struct {
	research.Brief
	PipelineState research.PipelineState `json:"pipeline_state"`
}

// CreateTopicRequest represents a standing topic payload.
type CreateTopicRequest struct {
	Name         string `json:"name"`
	Depth        int    `json:"depth"`
	ScheduleCron string `json:"schedule_cron"`
}
