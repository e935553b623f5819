// Package config loads tunable network parameters for ledgernet's tracker
// and node processes.
//
// Version: v0.1.0
package config

import (
	"github.com/spf13/viper"

	"ledgernet/core"
	"ledgernet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config mirrors core.Config with mapstructure/json tags so it can be
// loaded from an optional config file or environment variables.
type Config struct {
	Difficulty      int `mapstructure:"difficulty" json:"difficulty"`
	MiningThreshold int `mapstructure:"mining_threshold" json:"mining_threshold"`
	GenesisAmount   int `mapstructure:"genesis_amount" json:"genesis_amount"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads an optional "ledgernet" config file (searched under ./config
// and the working directory) and LEDGERNET_-prefixed environment variable
// overrides, falling back to spec.md's literal defaults when neither is
// present. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	defaults := core.DefaultConfig()
	v.SetDefault("difficulty", defaults.Difficulty)
	v.SetDefault("mining_threshold", defaults.MiningThreshold)
	v.SetDefault("genesis_amount", defaults.GenesisAmount)

	v.SetConfigName("ledgernet")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LEDGERNET")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// ToCoreConfig converts the loaded configuration into core.Config.
func (c Config) ToCoreConfig() core.Config {
	return core.Config{
		Difficulty:      c.Difficulty,
		MiningThreshold: c.MiningThreshold,
		GenesisAmount:   c.GenesisAmount,
	}
}
