package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a connector entry on top of the NewBaseConfig
// defaults. A minimal document (name, type, network) is usable as-is without
// spelling out timeouts or activation flags; anything it does spell out wins.
func (c *BaseConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain BaseConfig
	merged := plain(*NewBaseConfig("", ""))
	if err := value.Decode(&merged); err != nil {
		return err
	}
	*c = BaseConfig(merged)
	return nil
}

// Load reads a YAML configuration file into out, expanding $VAR and ${VAR}
// references from the environment first so endpoints and credentials can stay
// out of the file.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.Expand(string(data), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes a configuration value to path as YAML.
func Save(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
