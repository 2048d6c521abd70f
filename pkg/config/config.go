package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every configuration knob enumerated for the worker pool.
type Config struct {
	WorkerCount           int    `yaml:"worker_count"`
	WorkerSetAffinity     bool   `yaml:"worker_set_affinity"`
	WorkerAcceptThreshold int    `yaml:"worker_accept_threshold"`
	WorkerRlimitNofiles   uint64 `yaml:"worker_rlimit_nofiles"`
	WorkerMaxConnections  int    `yaml:"worker_max_connections"`
	WorkerPolicy          string `yaml:"worker_policy"`

	SkipRunas  bool `yaml:"skip_runas"`
	SkipChroot bool `yaml:"skip_chroot"`

	RunasUser string `yaml:"kore_runas_user"`
	RootPath  string `yaml:"kore_root_path"`

	EnableACME bool     `yaml:"enable_acme"`
	Domains    []string `yaml:"domains"`
}

// Default returns a Config with the documented defaults: worker_count
// equal to the detected CPU count, policy RESTART, chroot/runas enabled.
func Default() Config {
	return Config{
		WorkerCount:          runtime.NumCPU(),
		WorkerSetAffinity:    true,
		WorkerRlimitNofiles:  1024,
		WorkerMaxConnections: 1000,
		WorkerPolicy:         "RESTART",
		RootPath:             "/",
	}
}

// Load reads path as YAML over Default(), so an absent or partial file
// still produces a usable Config. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a configuration the supervisor could not act on.
func (c Config) Validate() error {
	if c.WorkerCount < 0 {
		return fmt.Errorf("config: worker_count must be >= 0, got %d", c.WorkerCount)
	}
	switch c.WorkerPolicy {
	case "RESTART", "TERMINATE":
	default:
		return fmt.Errorf("config: worker_policy must be RESTART or TERMINATE, got %q", c.WorkerPolicy)
	}
	if !c.SkipRunas && c.RunasUser == "" {
		return fmt.Errorf("config: kore_runas_user is required unless skip_runas is set")
	}
	if c.RootPath == "" {
		return fmt.Errorf("config: kore_root_path is required")
	}
	return nil
}
