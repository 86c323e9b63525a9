package config

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed categories.yaml
var defaultCategorySeed []byte

// CategorySeed returns the category seed document: CATEGORY_SEED_FILE when set,
// otherwise the embedded default.
func CategorySeed(cfg *Config) ([]byte, error) {
	if cfg == nil || cfg.CategorySeedFile == "" {
		return defaultCategorySeed, nil
	}
	data, err := os.ReadFile(cfg.CategorySeedFile)
	if err != nil {
		return nil, fmt.Errorf("read category seed: %w", err)
	}
	return data, nil
}
