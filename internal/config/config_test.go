package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test tearing defaults
	if !cfg.Tearing.Enabled {
		t.Error("expected tearing to be enabled by default")
	}
	if cfg.Tearing.ResistanceMultiplier != 1000 {
		t.Errorf("expected resistance multiplier 1000, got %v", cfg.Tearing.ResistanceMultiplier)
	}
	if cfg.Tearing.Rate != 1 {
		t.Errorf("expected tear rate 1, got %d", cfg.Tearing.Rate)
	}
	if cfg.Tearing.Debilitation != 0.1 {
		t.Errorf("expected debilitation 0.1, got %v", cfg.Tearing.Debilitation)
	}

	// Test build defaults
	if cfg.Build.WeldDistance != 0 {
		t.Errorf("expected weld distance 0, got %v", cfg.Build.WeldDistance)
	}
	if cfg.Build.TearCapacity != 0.5 {
		t.Errorf("expected tear capacity 0.5, got %v", cfg.Build.TearCapacity)
	}

	// Test solver defaults
	if got := cfg.Solver.SubstepTime(); got != 0.005 {
		t.Errorf("expected substep time 0.005, got %v", got)
	}

	// Test logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `
tearing:
  enabled: false
  resistance_multiplier: 250
  rate: 3
  debilitation: 0.4

build:
  weld_distance: 0.001
  tear_capacity: 0.8

solver:
  substeps: 8

logging:
  level: "debug"
  log_file: "tear.log"
`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `
[tearing]
enabled = false
resistance_multiplier = 250.0
rate = 3
debilitation = 0.4

[build]
weld_distance = 0.001
tear_capacity = 0.8

[solver]
substeps = 8

[logging]
level = "debug"
log_file = "tear.log"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg := Default()
			if err := loadFromFile(cfg, configPath); err != nil {
				t.Fatalf("failed to load config: %v", err)
			}

			if cfg.Tearing.Enabled {
				t.Error("expected tearing to be disabled")
			}
			if cfg.Tearing.ResistanceMultiplier != 250 {
				t.Errorf("expected multiplier 250, got %v", cfg.Tearing.ResistanceMultiplier)
			}
			if cfg.Tearing.Rate != 3 {
				t.Errorf("expected rate 3, got %d", cfg.Tearing.Rate)
			}
			if cfg.Tearing.Debilitation != 0.4 {
				t.Errorf("expected debilitation 0.4, got %v", cfg.Tearing.Debilitation)
			}
			if cfg.Build.WeldDistance != 0.001 {
				t.Errorf("expected weld distance 0.001, got %v", cfg.Build.WeldDistance)
			}
			if cfg.Build.TearCapacity != 0.8 {
				t.Errorf("expected tear capacity 0.8, got %v", cfg.Build.TearCapacity)
			}
			// Unset keys keep their defaults.
			if cfg.Build.ParticleMass != 0.1 {
				t.Errorf("expected particle mass to stay 0.1, got %v", cfg.Build.ParticleMass)
			}
			if cfg.Solver.Timestep != 0.02 || cfg.Solver.Substeps != 8 {
				t.Errorf("unexpected solver config %+v", cfg.Solver)
			}
			if cfg.Logging.Level != "debug" {
				t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
			}
			if cfg.Logging.LogFile != "tear.log" {
				t.Errorf("expected log file 'tear.log', got %s", cfg.Logging.LogFile)
			}
		})
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
tearing:
  rate: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"debilitation above one", func(c *Config) { c.Tearing.Debilitation = 1.5 }, ErrDebilitationRange},
		{"negative debilitation", func(c *Config) { c.Tearing.Debilitation = -0.1 }, ErrDebilitationRange},
		{"negative rate", func(c *Config) { c.Tearing.Rate = -1 }, ErrTearRate},
		{"capacity above one", func(c *Config) { c.Build.TearCapacity = 2 }, ErrTearCapacityRange},
		{"negative weld", func(c *Config) { c.Build.WeldDistance = -1 }, ErrWeldDistance},
		{"zero substeps", func(c *Config) { c.Solver.Substeps = 0 }, ErrSolverStep},
		{"zero rate is allowed", func(c *Config) { c.Tearing.Rate = 0 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "clothtear.toml")
	if err := os.WriteFile(configPath, []byte("[tearing]\nrate = 2\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path != "./clothtear.toml" {
		t.Errorf("expected ./clothtear.toml, got %q", path)
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "no tearing flag",
			setup: func() { *flagNoTearing = true },
			verify: func(cfg *Config) {
				if cfg.Tearing.Enabled {
					t.Error("expected tearing to be disabled")
				}
			},
			teardown: func() { *flagNoTearing = false },
		},
		{
			name: "tearing overrides",
			setup: func() {
				*flagTearRate = 0
				*flagTearMultiplier = 50
			},
			verify: func(cfg *Config) {
				if cfg.Tearing.Rate != 0 {
					t.Errorf("expected rate 0, got %d", cfg.Tearing.Rate)
				}
				if cfg.Tearing.ResistanceMultiplier != 50 {
					t.Errorf("expected multiplier 50, got %v", cfg.Tearing.ResistanceMultiplier)
				}
			},
			teardown: func() {
				*flagTearRate = -1
				*flagTearMultiplier = 0
			},
		},
		{
			name: "build overrides",
			setup: func() {
				*flagWeld = 0.5
				*flagCapacity = 1
			},
			verify: func(cfg *Config) {
				if cfg.Build.WeldDistance != 0.5 {
					t.Errorf("expected weld 0.5, got %v", cfg.Build.WeldDistance)
				}
				if cfg.Build.TearCapacity != 1 {
					t.Errorf("expected capacity 1, got %v", cfg.Build.TearCapacity)
				}
			},
			teardown: func() {
				*flagWeld = -1
				*flagCapacity = -1
			},
		},
		{
			name:  "unset flags change nothing",
			setup: func() {},
			verify: func(cfg *Config) {
				if *cfg != *Default() {
					t.Errorf("expected defaults, got %+v", cfg)
				}
			},
			teardown: func() {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)

			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
tearing:
  rate: 4
  debilitation: 0.3
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagTearRate = 7
	defer func() {
		*flagConfig = ""
		*flagTearRate = -1
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Rate should be from flag (7), not file (4)
	if cfg.Tearing.Rate != 7 {
		t.Errorf("expected rate 7 from flag, got %d", cfg.Tearing.Rate)
	}

	// Debilitation should be from file since no flag override
	if cfg.Tearing.Debilitation != 0.3 {
		t.Errorf("expected debilitation 0.3 from file, got %v", cfg.Tearing.Debilitation)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("tearing:\n  debilitation: 3\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadFile(configPath); !errors.Is(err, ErrDebilitationRange) {
		t.Errorf("expected ErrDebilitationRange, got %v", err)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Tearing.Rate = 9
			cfg.Build.WeldDistance = 0.25

			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo() failed: %v", err)
			}
			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() failed: %v", err)
			}
			if *loaded != *cfg {
				t.Errorf("round trip mismatch: got %+v, want %+v", loaded, cfg)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	if err := os.WriteFile(path, []byte("tearing:\n  rate: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	if err := Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("tearing:\n  rate: 5\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Tearing.Rate == 5 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
