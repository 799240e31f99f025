// Package config handles tearing, build and solver configuration.
package config

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrDebilitationRange = errors.New("tearing.debilitation must be within [0, 1]")
	ErrTearRate          = errors.New("tearing.rate must not be negative")
	ErrTearCapacityRange = errors.New("build.tear_capacity must be within [0, 1]")
	ErrWeldDistance      = errors.New("build.weld_distance must not be negative")
	ErrSolverStep        = errors.New("solver.timestep and solver.substeps must be positive")
)

// Config holds all settings.
type Config struct {
	Tearing TearingConfig `yaml:"tearing" toml:"tearing"`
	Build   BuildConfig   `yaml:"build" toml:"build"`
	Solver  SolverConfig  `yaml:"solver" toml:"solver"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// TearingConfig holds the per-actor tearing parameters.
type TearingConfig struct {
	Enabled              bool    `yaml:"enabled" toml:"enabled"`
	ResistanceMultiplier float32 `yaml:"resistance_multiplier" toml:"resistance_multiplier"` // newtons
	Rate                 int     `yaml:"rate" toml:"rate"`                                   // max tears per substep
	Debilitation         float32 `yaml:"debilitation" toml:"debilitation"`                   // resistance lost at crack tips
}

// BuildConfig holds blueprint generation settings.
type BuildConfig struct {
	WeldDistance       float32 `yaml:"weld_distance" toml:"weld_distance"`
	TearCapacity       float32 `yaml:"tear_capacity" toml:"tear_capacity"`
	ParticleMass       float32 `yaml:"particle_mass" toml:"particle_mass"`
	TearResistance     float32 `yaml:"tear_resistance" toml:"tear_resistance"`
	DistanceCompliance float32 `yaml:"distance_compliance" toml:"distance_compliance"`
	BendCompliance     float32 `yaml:"bend_compliance" toml:"bend_compliance"`
	MaxBending         float32 `yaml:"max_bending" toml:"max_bending"`
	TetherScale        float32 `yaml:"tether_scale" toml:"tether_scale"`
}

// SolverConfig holds the stepping used when driving tearing from tools.
type SolverConfig struct {
	Timestep float32 `yaml:"timestep" toml:"timestep"` // seconds per frame
	Substeps int     `yaml:"substeps" toml:"substeps"`
}

// SubstepTime returns the duration of one substep in seconds.
func (s SolverConfig) SubstepTime() float32 {
	return s.Timestep / float32(s.Substeps)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level" toml:"level"`
	LogFile string `yaml:"log_file" toml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Tearing: TearingConfig{
			Enabled:              true,
			ResistanceMultiplier: 1000,
			Rate:                 1,
			Debilitation:         0.1,
		},
		Build: BuildConfig{
			WeldDistance:   0,
			TearCapacity:   0.5,
			ParticleMass:   0.1,
			TearResistance: 1,
			MaxBending:     0.025,
			TetherScale:    1,
		},
		Solver: SolverConfig{
			Timestep: 0.02,
			Substeps: 4,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	switch {
	case c.Tearing.Debilitation < 0 || c.Tearing.Debilitation > 1:
		return fmt.Errorf("%w: %v", ErrDebilitationRange, c.Tearing.Debilitation)
	case c.Tearing.Rate < 0:
		return fmt.Errorf("%w: %d", ErrTearRate, c.Tearing.Rate)
	case c.Build.TearCapacity < 0 || c.Build.TearCapacity > 1:
		return fmt.Errorf("%w: %v", ErrTearCapacityRange, c.Build.TearCapacity)
	case c.Build.WeldDistance < 0:
		return fmt.Errorf("%w: %v", ErrWeldDistance, c.Build.WeldDistance)
	case c.Solver.Timestep <= 0 || c.Solver.Substeps <= 0:
		return ErrSolverStep
	}
	return nil
}
