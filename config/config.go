// Package config holds host-level configuration for the node: where it
// stores its data, how aggressively it prunes trie state, and the
// consensus parameters GRANDPA and SASSAFRAS need at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration for a host node.
type Config struct {
	// DataDir is the root directory for all persistent storage.
	DataDir string

	// Name is a human-readable node identifier (used in logs).
	Name string

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// Metrics enables the Prometheus metrics endpoint.
	Metrics bool

	// PruningDepth is the number of finalized blocks behind the head to
	// retain before a state becomes eligible for pruning.
	PruningDepth uint32

	// PruningThorough additionally reclaims nodes from discarded forks,
	// not only finalized states.
	PruningThorough bool

	GRANDPA   GRANDPAConfig
	SASSAFRAS SASSAFRASConfig
}

// GRANDPAConfig holds the parameters the schedule-node tree needs at
// startup: how the genesis authority set and voting behavior are seeded.
type GRANDPAConfig struct {
	// VotingDelaySlots is the number of slots a scheduled authority-set
	// change waits behind its announcing block before it may apply.
	VotingDelaySlots uint64
}

// SASSAFRASConfig holds the per-epoch lottery parameters.
type SASSAFRASConfig struct {
	// EpochLength is the number of slots in one epoch.
	EpochLength uint64
	// RedundancyFactor and AttemptsPerValidator feed TicketIDThreshold.
	RedundancyFactor     uint64
	AttemptsPerValidator uint64
}

// defaultDataDir returns the platform-specific default data directory,
// falling back to a relative directory if the home directory cannot be
// determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kagome-sub006"
	}
	return filepath.Join(home, ".kagome-sub006")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:         defaultDataDir(),
		Name:            "kagome-sub006",
		LogLevel:        "info",
		Metrics:         false,
		PruningDepth:    256,
		PruningThorough: true,
		GRANDPA: GRANDPAConfig{
			VotingDelaySlots: 2,
		},
		SASSAFRAS: SASSAFRASConfig{
			EpochLength:          600,
			RedundancyFactor:     1,
			AttemptsPerValidator: 3,
		},
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.SASSAFRAS.EpochLength == 0 {
		return errors.New("config: sassafras epoch length must be positive")
	}
	if c.SASSAFRAS.AttemptsPerValidator == 0 {
		return errors.New("config: sassafras attempts_per_validator must be positive")
	}
	return nil
}

// dataDirSubdirs lists subdirectories created inside the data directory.
var dataDirSubdirs = []string{
	"chaindata",
	"keystore",
}

// InitDataDir creates the data directory and its standard subdirectories
// if they do not already exist.
func (c *Config) InitDataDir() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("config: create datadir: %w", err)
	}
	for _, sub := range dataDirSubdirs {
		dir := filepath.Join(c.DataDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create %s: %w", sub, err)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
