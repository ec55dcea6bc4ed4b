package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/repub-dev/repub/internal/security"
)

// AuthHandler handles the login gate endpoints.
type AuthHandler struct {
	gate   *security.Gate
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(gate *security.Gate, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		gate:   gate,
		logger: logger.With(slog.String("component", "api")),
	}
}

// LoginInput is the input for the login endpoint.
type LoginInput struct {
	Body struct {
		Password string `json:"password" doc:"Shared password" minLength:"1"`
	}
}

// AuthStatusOutput is the output for the auth status endpoint.
type AuthStatusOutput struct {
	Body struct {
		Required             bool `json:"required"`
		FailedAttempts       int  `json:"failed_attempts,omitempty"`
		LockoutRemainingSecs int  `json:"lockout_remaining_secs,omitempty"`
	}
}

// Register registers the auth routes with the API.
func (h *AuthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      "POST",
		Path:        "/api/auth/login",
		Summary:     "Validate the shared password",
		Tags:        []string{"Auth"},
	}, h.Login)

	huma.Register(api, huma.Operation{
		OperationID: "getAuthStatus",
		Method:      "GET",
		Path:        "/api/auth/status",
		Summary:     "Report the login gate state",
		Tags:        []string{"Auth"},
	}, h.Status)
}

// Login validates one attempt against the gate.
func (h *AuthHandler) Login(ctx context.Context, input *LoginInput) (*ActionOutput, error) {
	err := h.gate.Attempt(input.Body.Password)
	switch {
	case err == nil:
		return &ActionOutput{Body: ActionResponse{Success: true, Message: "login ok"}}, nil
	case errors.Is(err, security.ErrLockedOut):
		return nil, huma.Error429TooManyRequests(err.Error())
	case errors.Is(err, security.ErrBadPassword):
		return nil, huma.Error401Unauthorized(err.Error())
	default:
		return nil, huma.Error500InternalServerError("validating login", err)
	}
}

// Status reports whether login is required and any active lockout.
func (h *AuthHandler) Status(ctx context.Context, _ *struct{}) (*AuthStatusOutput, error) {
	out := &AuthStatusOutput{}
	out.Body.Required = h.gate.Required()
	out.Body.FailedAttempts = h.gate.Snapshot().FailedAttempts
	out.Body.LockoutRemainingSecs = int(h.gate.RemainingLockout().Seconds())
	return out, nil
}
