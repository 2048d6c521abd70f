// Package config loads the worker-pool configuration knobs from an
// optional YAML file layered over built-in defaults. There are no
// per-knob CLI flag overrides; the CLI only selects the file.
package config
