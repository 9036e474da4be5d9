// Package config loads node configuration from an optional TOML file,
// falling back to the protocol defaults for anything the file omits.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every value a node needs at startup.
type Config struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	MiningReward     int64  `toml:"mining_reward"`
	MiningDifficulty int    `toml:"mining_difficulty"`
}

// Default returns the protocol's default configuration: listener starting
// at DefaultPort, with the standard mining reward and difficulty.
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             DefaultPort,
		MiningReward:     DefaultMiningReward,
		MiningDifficulty: DefaultMiningDifficulty,
	}
}

const (
	// DefaultPort is the first port the listener tries to bind.
	DefaultPort = 41000
	// DefaultMiningReward is the coinbase amount per mined block.
	DefaultMiningReward = 10
	// DefaultMiningDifficulty is the required hex-zero proof-of-work prefix length.
	DefaultMiningDifficulty = 6
)

// Load reads a TOML file at path over top of Default, returning Default
// unchanged if path does not exist.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
