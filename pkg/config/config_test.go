package config

import "testing"

func TestLoadReturnsPositiveDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Difficulty <= 0 {
		t.Fatalf("Difficulty = %d, want > 0", cfg.Difficulty)
	}
	if cfg.MiningThreshold <= 0 {
		t.Fatalf("MiningThreshold = %d, want > 0", cfg.MiningThreshold)
	}
	if cfg.GenesisAmount <= 0 {
		t.Fatalf("GenesisAmount = %d, want > 0", cfg.GenesisAmount)
	}
}
