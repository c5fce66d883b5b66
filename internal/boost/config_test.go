package boost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigworks/api_credits/pkg/models"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg := ConfigFromEnv()

	require.Len(t, cfg.Pricing, 3)
	assert.Equal(t, int64(50), cfg.Pricing[models.BoostProfile].CreditsCost)
	assert.Equal(t, int64(30), cfg.Pricing[models.BoostGig].CreditsCost)
	assert.Equal(t, int64(100), cfg.Pricing[models.BoostClan].CreditsCost)
	assert.Equal(t, 48, cfg.Pricing[models.BoostClan].DefaultDurationHours)
	assert.Equal(t, 336, cfg.Pricing[models.BoostClan].MaxDurationHours)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("BOOST_GIG_COST", "75")
	t.Setenv("BOOST_GIG_MAX_HOURS", "72")
	t.Setenv("BOOST_SWEEP_INTERVAL", "30s")

	cfg := ConfigFromEnv()

	assert.Equal(t, int64(75), cfg.Pricing[models.BoostGig].CreditsCost)
	assert.Equal(t, 72, cfg.Pricing[models.BoostGig].MaxDurationHours)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestPricingListStableOrder(t *testing.T) {
	list := ConfigFromEnv().PricingList()

	require.Len(t, list, 3)
	assert.Equal(t, models.BoostProfile, list[0].BoostType)
	assert.Equal(t, models.BoostGig, list[1].BoostType)
	assert.Equal(t, models.BoostClan, list[2].BoostType)
}
