package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgt-economy-system/models"
)

// bypass keeps distribution tests out of the cooldown gate except where the
// gate itself is under test.
var bypass = []string{"admin"}

func TestDistributeTip(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 10_000)
	env.fund(t, "bob", 0)

	res, err := env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "tip-alice-1",
		Kind:           "tip",
		SenderID:       "alice",
		TotalAmount:    1000,
		Recipients:     []string{"bob"},
		SenderRoles:    bypass,
	})
	require.NoError(t, err)

	// Default split: 10% burn, 90% to the recipient.
	assert.Equal(t, int64(900), res.PerShare)
	assert.Equal(t, int64(100), res.Burned)
	assert.Equal(t, int64(0), res.Refunded)
	assert.Equal(t, int64(1000), res.NetDebit)
	assert.Equal(t, []string{"bob"}, res.Credited)

	assert.Equal(t, int64(9000), env.balance(t, "alice"))
	assert.Equal(t, int64(900), env.balance(t, "bob"))
	assert.Equal(t, int64(100), env.balance(t, models.BurnAccountID))
}

func TestDistributeRainConservation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "sender", 10_000)
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		env.fund(t, id, 0)
	}
	_, err := env.ledger.SetAccountStatus("r4", models.AccountFrozen)
	require.NoError(t, err)

	res, err := env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "rain-sender-1",
		Kind:           "rain",
		SenderID:       "sender",
		TotalAmount:    1000,
		Recipients:     []string{"r1", "r2", "r3", "r4"},
		SenderRoles:    bypass,
	})
	require.NoError(t, err)

	// Shares are computed over the requested slots; the frozen recipient's
	// share stays with the sender instead of being redistributed.
	assert.Equal(t, int64(250), res.PerShare)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, res.Credited)
	assert.Equal(t, []string{"r4"}, res.Skipped)
	assert.Equal(t, int64(750), res.NetDebit)
	assert.Equal(t, int64(250), res.Refunded)

	// Every minor unit accounted for.
	assert.Equal(t, res.PerShare*int64(len(res.Credited))+res.Burned+res.Refunded, int64(1000))

	assert.Equal(t, int64(10_000-750), env.balance(t, "sender"))
	assert.Equal(t, int64(250), env.balance(t, "r1"))
	assert.Equal(t, int64(0), env.balance(t, "r4"))
}

func TestDistributeRemainderStaysWithSender(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "sender", 1000)
	for _, id := range []string{"a", "b", "c"} {
		env.fund(t, id, 0)
	}

	res, err := env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "rain-remainder-1",
		Kind:           "rain",
		SenderID:       "sender",
		TotalAmount:    100,
		Recipients:     []string{"a", "b", "c"},
		SenderRoles:    bypass,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(33), res.PerShare)
	assert.Equal(t, int64(99), res.NetDebit)
	assert.Equal(t, int64(1), res.Refunded)
	assert.Equal(t, int64(901), env.balance(t, "sender"))
}

func TestDistributeValidation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 10_000)
	env.fund(t, "bob", 0)

	t.Run("SelfAndDuplicateSkipped", func(t *testing.T) {
		res, err := env.distribution.Distribute(DistributionRequest{
			IdempotencyKey: "tip-dupes-1",
			Kind:           "tip",
			SenderID:       "alice",
			TotalAmount:    300,
			Recipients:     []string{"alice", "bob", "bob"},
			SenderRoles:    bypass,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, res.Credited)
		assert.ElementsMatch(t, []string{"alice", "bob"}, res.Skipped)
	})

	t.Run("NoValidRecipients", func(t *testing.T) {
		_, err := env.distribution.Distribute(DistributionRequest{
			IdempotencyKey: "tip-novalid-1",
			Kind:           "tip",
			SenderID:       "alice",
			TotalAmount:    300,
			Recipients:     []string{"alice", "missing"},
			SenderRoles:    bypass,
		})
		require.ErrorIs(t, err, ErrNoValidRecipients)
		assert.Equal(t, appliedDelta(t, env, "alice"), env.balance(t, "alice"))
	})

	t.Run("AmountBounds", func(t *testing.T) {
		_, err := env.distribution.Distribute(DistributionRequest{
			IdempotencyKey: "tip-bounds-1",
			Kind:           "tip",
			SenderID:       "alice",
			TotalAmount:    5, // below the tip minimum
			Recipients:     []string{"bob"},
			SenderRoles:    bypass,
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("InsufficientBalanceLeavesNothingApplied", func(t *testing.T) {
		env.fund(t, "pauper", 10)
		before := env.balance(t, "bob")
		_, err := env.distribution.Distribute(DistributionRequest{
			IdempotencyKey: "tip-pauper-1",
			Kind:           "tip",
			SenderID:       "pauper",
			TotalAmount:    500,
			Recipients:     []string{"bob"},
			SenderRoles:    bypass,
		})
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(10), env.balance(t, "pauper"))
		assert.Equal(t, before, env.balance(t, "bob"))
	})
}

func TestDistributeResubmitSameKey(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 1000)
	env.fund(t, "bob", 0)

	req := DistributionRequest{
		IdempotencyKey: "tip-retry-1",
		Kind:           "tip",
		SenderID:       "alice",
		TotalAmount:    200,
		Recipients:     []string{"bob"},
		SenderRoles:    bypass,
	}

	first, err := env.distribution.Distribute(req)
	require.NoError(t, err)
	assert.Equal(t, int64(800), env.balance(t, "alice"))

	// A client retry of the exact same request settles once: no second
	// debit, no second credit, same outcome handed back.
	second, err := env.distribution.Distribute(req)
	require.NoError(t, err)

	assert.Equal(t, first.DistributionID, second.DistributionID)
	assert.Equal(t, first.PerShare, second.PerShare)
	assert.Equal(t, first.Burned, second.Burned)
	assert.Equal(t, first.NetDebit, second.NetDebit)
	assert.ElementsMatch(t, first.Credited, second.Credited)
	assert.ElementsMatch(t, first.Transactions, second.Transactions)

	assert.Equal(t, int64(800), env.balance(t, "alice"))
	assert.Equal(t, int64(180), env.balance(t, "bob"))
	assert.Equal(t, int64(20), env.balance(t, models.BurnAccountID))
}

func TestDistributeRequiresKey(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 1000)
	env.fund(t, "bob", 0)

	_, err := env.distribution.Distribute(DistributionRequest{
		Kind:        "tip",
		SenderID:    "alice",
		TotalAmount: 200,
		Recipients:  []string{"bob"},
		SenderRoles: bypass,
	})
	require.ErrorIs(t, err, ErrValidationError)
	assert.Equal(t, int64(1000), env.balance(t, "alice"))
}

func TestDistributeCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 10_000)
	env.fund(t, "bob", 0)

	_, err := env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "tip-cd-1",
		Kind:           "tip",
		SenderID:       "alice",
		TotalAmount:    100,
		Recipients:     []string{"bob"},
	})
	require.NoError(t, err)

	_, err = env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "tip-cd-2",
		Kind:           "tip",
		SenderID:       "alice",
		TotalAmount:    100,
		Recipients:     []string{"bob"},
	})
	require.ErrorIs(t, err, ErrCooldownActive)

	// The rejected attempt moved no money.
	assert.Equal(t, int64(9900), env.balance(t, "alice"))
	assert.Equal(t, int64(90), env.balance(t, "bob"))
}

func TestDistributeRandomRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "sender", 10_000)
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		env.fund(t, id, 0)
	}

	res, err := env.distribution.Distribute(DistributionRequest{
		IdempotencyKey: "rain-random-1",
		Kind:           "rain",
		SenderID:       "sender",
		TotalAmount:    600,
		RecipientCount: 3,
		SenderRoles:    bypass,
	})
	require.NoError(t, err)

	assert.Len(t, res.Credited, 3)
	assert.NotContains(t, res.Credited, "sender")
	assert.NotContains(t, res.Credited, models.BurnAccountID)
	assert.NotContains(t, res.Credited, models.TreasuryAccountID)
	assert.Equal(t, int64(200), res.PerShare)
}
