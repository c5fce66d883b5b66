package boost

import (
	"time"

	"gigworks/api_credits/pkg/config"
	"gigworks/api_credits/pkg/models"
)

// Config centralizes boost pricing and sweep scheduling. It is built once
// at bootstrap and passed into the manager; nothing reads the environment
// per call.
type Config struct {
	Pricing       map[models.BoostType]models.BoostPricing
	SweepInterval time.Duration
}

// ConfigFromEnv reads boost pricing from the environment with platform
// defaults.
func ConfigFromEnv() Config {
	return Config{
		Pricing: map[models.BoostType]models.BoostPricing{
			models.BoostProfile: {
				BoostType:            models.BoostProfile,
				CreditsCost:          config.GetEnvInt64("BOOST_PROFILE_COST", 50),
				DefaultDurationHours: config.GetEnvInt("BOOST_PROFILE_DEFAULT_HOURS", 24),
				MaxDurationHours:     config.GetEnvInt("BOOST_PROFILE_MAX_HOURS", 168),
			},
			models.BoostGig: {
				BoostType:            models.BoostGig,
				CreditsCost:          config.GetEnvInt64("BOOST_GIG_COST", 30),
				DefaultDurationHours: config.GetEnvInt("BOOST_GIG_DEFAULT_HOURS", 24),
				MaxDurationHours:     config.GetEnvInt("BOOST_GIG_MAX_HOURS", 168),
			},
			models.BoostClan: {
				BoostType:            models.BoostClan,
				CreditsCost:          config.GetEnvInt64("BOOST_CLAN_COST", 100),
				DefaultDurationHours: config.GetEnvInt("BOOST_CLAN_DEFAULT_HOURS", 48),
				MaxDurationHours:     config.GetEnvInt("BOOST_CLAN_MAX_HOURS", 336),
			},
		},
		SweepInterval: config.GetEnvDuration("BOOST_SWEEP_INTERVAL", time.Minute),
	}
}

// PricingList returns the configured pricing in stable order for the
// public pricing endpoint.
func (c Config) PricingList() []models.BoostPricing {
	out := make([]models.BoostPricing, 0, len(c.Pricing))
	for _, bt := range []models.BoostType{models.BoostProfile, models.BoostGig, models.BoostClan} {
		if p, ok := c.Pricing[bt]; ok {
			out = append(out, p)
		}
	}
	return out
}
