package config

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

// LoadAndValidate loads the configuration at path, validates it against the
// JSON schema at schemaPath and fills defaults. An empty schemaPath skips
// validation.
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	if schemaPath != "" {
		if err := validate(data, schemaPath); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	for id, m := range config.Models {
		if _, err := m.ResolveParams(); err != nil {
			return nil, fmt.Errorf("config: model %s: %w", id, err)
		}
	}

	config.ApplyDefaults()

	return &config, nil
}

func validate(data []byte, schemaPath string) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: invalid YAML: %w", err)
	}

	schema, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("config: config validation failed: %w", err)
	}

	return nil
}
