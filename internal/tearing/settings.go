package tearing

import "github.com/Faultbox/clothtear/internal/config"

// Settings are the per-actor tearing parameters.
type Settings struct {
	TearingEnabled bool
	// TearResistanceMultiplier scales per-particle tear resistance into
	// newtons.
	TearResistanceMultiplier float32
	// TearRate is the maximum number of tears per substep.
	TearRate int
	// TearDebilitation is the fraction of tear resistance the two particles
	// at the tip of a new crack lose.
	TearDebilitation float32
}

// DefaultSettings returns the settings matching config.Default().
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default().Tearing)
}

// SettingsFromConfig converts tearing configuration into Settings.
func SettingsFromConfig(c config.TearingConfig) Settings {
	return Settings{
		TearingEnabled:           c.Enabled,
		TearResistanceMultiplier: c.ResistanceMultiplier,
		TearRate:                 c.Rate,
		TearDebilitation:         c.Debilitation,
	}
}
