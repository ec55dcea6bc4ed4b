package security

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repub-dev/repub/internal/config"
)

func testGate(t *testing.T, cfg config.LoginConfig) (*Gate, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security_state.json")
	return NewGate(cfg, path, nil), path
}

func TestAttemptNotRequired(t *testing.T) {
	g, _ := testGate(t, config.LoginConfig{Required: false, Password: "secret"})
	require.NoError(t, g.Attempt("anything"))
}

func TestAttemptSuccessResetsCount(t *testing.T) {
	g, _ := testGate(t, config.LoginConfig{Required: true, Password: "secret"})

	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	require.Equal(t, 2, g.Snapshot().FailedAttempts)

	require.NoError(t, g.Attempt("secret"))
	require.Zero(t, g.Snapshot().FailedAttempts)
	require.Nil(t, g.Snapshot().LockedUntil)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	g, _ := testGate(t, config.LoginConfig{
		Required:          true,
		Password:          "secret",
		MaxFailedAttempts: 3,
		LockoutDuration:   time.Hour,
	})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	}
	require.NotNil(t, g.Snapshot().LockedUntil)
	require.Greater(t, g.RemainingLockout(), 50*time.Minute)

	// The correct password is rejected while locked.
	require.ErrorIs(t, g.Attempt("secret"), ErrLockedOut)
}

func TestLockoutExpiry(t *testing.T) {
	g, _ := testGate(t, config.LoginConfig{
		Required:          true,
		Password:          "secret",
		MaxFailedAttempts: 2,
		LockoutDuration:   10 * time.Millisecond,
	})

	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	require.ErrorIs(t, g.Attempt("secret"), ErrLockedOut)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Attempt("secret"))
	require.Zero(t, g.RemainingLockout())
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	cfg := config.LoginConfig{
		Required:          true,
		Password:          "secret",
		MaxFailedAttempts: 2,
		LockoutDuration:   time.Hour,
	}
	path := filepath.Join(t.TempDir(), "security_state.json")

	g := NewGate(cfg, path, nil)
	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)
	require.ErrorIs(t, g.Attempt("wrong"), ErrBadPassword)

	reloaded := NewGate(cfg, path, nil)
	require.Equal(t, 2, reloaded.Snapshot().FailedAttempts)
	require.ErrorIs(t, reloaded.Attempt("secret"), ErrLockedOut)
}
