package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// yamlFlag sets a structured option from an inline YAML flag value or
// from the config file.
type yamlFlag[T any] struct {
	target *T
	raw    string
}

func newYamlFlag[T any](target *T) *yamlFlag[T] {
	return &yamlFlag[T]{target: target}
}

func (yf *yamlFlag[T]) Set(value string) error {
	var v T
	if err := yaml.UnmarshalStrict([]byte(value), &v); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}

	*yf.target = v
	yf.raw = value
	return nil
}

func (yf *yamlFlag[T]) UnmarshalYAML(unmarshal func(any) error) error {
	var v T
	if err := unmarshal(&v); err != nil {
		return err
	}

	*yf.target = v
	return nil
}

func (yf *yamlFlag[T]) String() string {
	if yf == nil {
		return ""
	}

	return yf.raw
}
