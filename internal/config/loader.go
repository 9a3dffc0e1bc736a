package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// keyDelimiter is used instead of "." since service property keys such as
// service.ranking contain dots.
const keyDelimiter = "::"

// LoadRuntimeFile loads and validates a bundles configuration file using Koanf.
// Returns the parsed and validated RuntimeFile or an error.
//
// Error cases:
//   - File not found or cannot be read
//   - Invalid YAML syntax
//   - Schema validation failure (unsupported version, missing required fields, duplicate names)
func LoadRuntimeFile(filepath string) (*RuntimeFile, error) {
	k := koanf.New(keyDelimiter)

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load runtime config from %q: %w", filepath, err)
	}

	var config RuntimeFile
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse runtime config from %q: %w", filepath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("runtime config validation failed for %q: %w", filepath, err)
	}

	return &config, nil
}
