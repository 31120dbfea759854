// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package conf loads run configuration from YAML files and provides defaults.
// Command line flags override whatever the file sets
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/flatfield/internal/basic"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration loaded from YAML
type Config struct {
	// Estimation parameters, passed through to the estimator
	Estimation basic.Config `yaml:"estimation"`

	// Run parameters
	Run struct {
		// Workers is the number of concurrent units of work; 0 uses all cores
		Workers int `yaml:"workers"`

		// MemoryMB caps estimation working memory; 0 uses half of physical RAM
		MemoryMB int `yaml:"memoryMB"`

		// Suffix names the default corrected output directory <acqDir><suffix>
		Suffix string `yaml:"suffix"`
	} `yaml:"run"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{Estimation: basic.DefaultConfig()}
	cfg.Run.Suffix = "_corrected"
	return cfg
}

// Load reads configuration from a YAML file on top of the defaults.
// A missing file yields the default configuration
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating directories as needed
func Save(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
