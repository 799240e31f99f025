package config

import "flag"

var (
	flagConfig         = flag.String("config", "", "Path to config file (.yaml, .yml or .toml)")
	flagDebug          = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile        = flag.String("log", "", "Write logs to this file")
	flagNoTearing      = flag.Bool("no-tearing", false, "Disable tearing")
	flagTearRate       = flag.Int("tear-rate", -1, "Maximum tears per substep")
	flagTearMultiplier = flag.Float64("tear-multiplier", 0, "Tear resistance multiplier (newtons)")
	flagWeld           = flag.Float64("weld", -1, "Weld distance used when building blueprints")
	flagCapacity       = flag.Float64("capacity", -1, "Tear capacity used when building blueprints")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagNoTearing {
		cfg.Tearing.Enabled = false
	}
	if *flagTearRate >= 0 {
		cfg.Tearing.Rate = *flagTearRate
	}
	if *flagTearMultiplier > 0 {
		cfg.Tearing.ResistanceMultiplier = float32(*flagTearMultiplier)
	}
	if *flagWeld >= 0 {
		cfg.Build.WeldDistance = float32(*flagWeld)
	}
	if *flagCapacity >= 0 {
		cfg.Build.TearCapacity = float32(*flagCapacity)
	}
}
