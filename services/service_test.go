package services

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dgt-economy-system/models"
	"dgt-economy-system/testutil"
	"dgt-economy-system/utils"
)

type testEnv struct {
	db           *gorm.DB
	config       *ConfigService
	ledger       *LedgerService
	cooldown     *CooldownService
	vaults       *VaultService
	progression  *ProgressionService
	distribution *DistributionService
	missions     *MissionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.OpenTestDB(t)
	metrics := utils.NewEconomyMetricsWith(prometheus.NewRegistry())
	cfg := NewConfigService()
	notifier := NoopNotifier{}

	ledger := NewLedgerService(db, metrics)
	require.NoError(t, ledger.EnsureSystemAccounts())

	cooldown := NewCooldownService(db, cfg, metrics)
	vaults := NewVaultService(db, ledger, notifier)
	progression := NewProgressionService(db, ledger, cfg, metrics, notifier)
	distribution := NewDistributionService(db, ledger, cooldown, cfg, metrics, notifier)
	missions := NewMissionService(db, ledger, progression, metrics, notifier)

	return &testEnv{
		db:           db,
		config:       cfg,
		ledger:       ledger,
		cooldown:     cooldown,
		vaults:       vaults,
		progression:  progression,
		distribution: distribution,
		missions:     missions,
	}
}

// fund opens an account and credits it through a deposit so the balance
// invariant holds from the start.
func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.ledger.OpenAccount(userID, nil)
	require.NoError(t, err)
	if amount > 0 {
		_, err = e.ledger.Apply(TransactionRequest{
			IdempotencyKey: "test-fund:" + userID,
			Type:           models.TxDeposit,
			Amount:         amount,
			DestinationID:  &userID,
		})
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	acct, err := e.ledger.GetBalance(userID)
	require.NoError(t, err)
	return acct.Balance
}
