package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgt-economy-system/models"
)

func TestCooldownCheck(t *testing.T) {
	env := newTestEnv(t)

	t.Run("SecondCallWithinWindowRejected", func(t *testing.T) {
		require.NoError(t, env.cooldown.Check("user-1", "tip", nil))

		err := env.cooldown.Check("user-1", "tip", nil)
		require.ErrorIs(t, err, ErrCooldownActive)

		left, err := env.cooldown.Remaining("user-1", "tip")
		require.NoError(t, err)
		assert.Greater(t, left, time.Duration(0))
	})

	t.Run("ExpiredWindowReopensGate", func(t *testing.T) {
		require.NoError(t, env.cooldown.Check("user-2", "tip", nil))

		// Age the stored window instead of sleeping through it.
		require.NoError(t, env.db.Model(&models.CooldownState{}).
			Where("external_user_id = ? AND action_key = ?", "user-2", "tip").
			Update("expires_at", time.Now().UTC().Add(-time.Second)).Error)

		require.NoError(t, env.cooldown.Check("user-2", "tip", nil))
	})

	t.Run("IndependentPerUserAndAction", func(t *testing.T) {
		require.NoError(t, env.cooldown.Check("user-3", "tip", nil))
		require.NoError(t, env.cooldown.Check("user-4", "tip", nil))
		require.NoError(t, env.cooldown.Check("user-3", "rain", nil))
	})

	t.Run("BypassRoleSkipsGate", func(t *testing.T) {
		require.NoError(t, env.cooldown.Check("mod-1", "tip", []string{"moderator"}))
		require.NoError(t, env.cooldown.Check("mod-1", "tip", []string{"moderator"}))

		// A bypassed call must not arm the window for later plain calls.
		require.NoError(t, env.cooldown.Check("mod-1", "tip", nil))
	})

	t.Run("UngatedActionAlwaysPasses", func(t *testing.T) {
		require.NoError(t, env.cooldown.Check("user-5", "profile_update", nil))
		require.NoError(t, env.cooldown.Check("user-5", "profile_update", nil))
	})

	t.Run("RemainingZeroWhenNeverArmed", func(t *testing.T) {
		left, err := env.cooldown.Remaining("user-6", "tip")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), left)
	})
}
