package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScaleConfig holds the static voting scale templates offered at room
// creation. The sync engine never consults these; they only pre-fill the
// create-room form.
type ScaleConfig struct {
	Scales []Scale `yaml:"scales"`
}

// Scale is one named voting option template.
type Scale struct {
	Name    string   `yaml:"name"`
	Options []string `yaml:"options"`
}

func loadScaleConfig(path string) (*ScaleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ScaleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
