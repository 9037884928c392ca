package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a dataset descriptor from a YAML file and validates it.
func Load(path string) (*DatasetDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset descriptor %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a dataset descriptor from YAML bytes.
func Parse(data []byte) (*DatasetDescriptor, error) {
	var desc DatasetDescriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("failed to decode dataset descriptor: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}
