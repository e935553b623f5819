package core

// Config tunes the mining difficulty, mining pool threshold, and genesis
// amount a Tracker/Node pair run with. Defaults mirror spec.md's literal
// values; pkg/config loads overrides via viper and converts to this type.
type Config struct {
	Difficulty      int
	MiningThreshold int
	GenesisAmount   int
}

// DefaultConfig returns spec.md's literal defaults.
func DefaultConfig() Config {
	return Config{
		Difficulty:      DefaultDifficulty,
		MiningThreshold: DefaultMiningThreshold,
		GenesisAmount:   DefaultGenesisAmount,
	}
}
