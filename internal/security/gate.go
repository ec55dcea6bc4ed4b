// Package security implements the login gate guarding the HTTP surface:
// a single shared password with failed-attempt tracking and a lockout
// window, persisted across restarts.
package security

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/repub-dev/repub/internal/config"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute
)

var (
	// ErrLockedOut is returned while the lockout window is active.
	ErrLockedOut = errors.New("too many failed attempts, try again later")
	// ErrBadPassword is returned for a wrong password outside a lockout.
	ErrBadPassword = errors.New("invalid password")
)

// State is the persisted login security record.
type State struct {
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastAttempt    *time.Time `json:"last_attempt,omitempty"`
}

// Gate validates login attempts against the configured password.
type Gate struct {
	cfg    config.LoginConfig
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewGate creates a gate persisting its state at path. A missing or corrupt
// state file starts clean.
func NewGate(cfg config.LoginConfig, path string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		cfg:    cfg,
		path:   path,
		logger: logger.With(slog.String("component", "security")),
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &g.state); err != nil {
			g.logger.Warn("discarding corrupt security state", slog.String("path", path))
			g.state = State{}
		}
	}
	return g
}

// Required reports whether the login gate is enabled.
func (g *Gate) Required() bool {
	return g.cfg.Required.Enabled() && g.cfg.Password != ""
}

// Attempt validates one login attempt. A gate that is not required accepts
// anything. Returns ErrLockedOut during a lockout window and ErrBadPassword
// on a wrong password.
func (g *Gate) Attempt(password string) error {
	if !g.Required() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if g.state.LockedUntil != nil {
		if now.Before(*g.state.LockedUntil) {
			return ErrLockedOut
		}
		// Lockout expired, start a fresh count.
		g.state = State{}
	}

	g.state.LastAttempt = &now
	if subtle.ConstantTimeCompare([]byte(password), []byte(g.cfg.Password)) == 1 {
		g.state = State{}
		g.persist()
		return nil
	}

	g.state.FailedAttempts++
	if g.state.FailedAttempts >= g.maxAttempts() {
		until := now.Add(g.lockout())
		g.state.LockedUntil = &until
		g.logger.Warn("login locked out",
			slog.Int("failed_attempts", g.state.FailedAttempts),
			slog.Time("until", until))
	}
	g.persist()
	return ErrBadPassword
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RemainingLockout returns how long the current lockout still holds, or 0.
func (g *Gate) RemainingLockout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.LockedUntil == nil {
		return 0
	}
	if d := time.Until(*g.state.LockedUntil); d > 0 {
		return d
	}
	return 0
}

func (g *Gate) maxAttempts() int {
	if g.cfg.MaxFailedAttempts > 0 {
		return g.cfg.MaxFailedAttempts
	}
	return defaultMaxFailedAttempts
}

func (g *Gate) lockout() time.Duration {
	if g.cfg.LockoutDuration > 0 {
		return g.cfg.LockoutDuration
	}
	return defaultLockoutDuration
}

// persist writes the state under the mutex. Failures are logged, not fatal:
// the in-memory gate still enforces the lockout.
func (g *Gate) persist() {
	data, err := json.MarshalIndent(g.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		g.logger.Warn("persisting security state", slog.Any("error", err))
		return
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		g.logger.Warn("persisting security state", slog.Any("error", err))
		return
	}
	if err := os.Rename(tmp, g.path); err != nil {
		g.logger.Warn("persisting security state", slog.Any("error", fmt.Errorf("renaming %s: %w", tmp, err)))
	}
}
