package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the shape of the config file. Unknown top-level
// keys are rejected so typos surface at load time instead of silently
// falling back to defaults.
const configSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"data_dir": {"type": "string"},
		"storage": {
			"type": "object",
			"properties": {
				"driver": {"type": "string", "enum": ["sqlite", "postgres"]},
				"path": {"type": "string"},
				"vector_path": {"type": "string"},
				"postgres_url": {"type": "string"}
			}
		},
		"embedding": {
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["openai", "mock"]},
				"api_key": {"type": "string"},
				"model": {"type": "string"},
				"dimension": {"type": "integer", "minimum": 1},
				"cache_size": {"type": "integer", "minimum": 0}
			}
		},
		"search": {
			"type": "object",
			"properties": {
				"default_limit": {"type": "integer", "minimum": 1},
				"max_limit": {"type": "integer", "minimum": 1}
			}
		},
		"reconciler": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"schedule": {"type": "string"}
			}
		},
		"api": {
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535}
			}
		},
		"ai": {
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["anthropic", "openai"]},
				"api_key": {"type": "string"},
				"model": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		}
	}
}`

// ValidateFile validates a config file against the schema
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return ValidateJSON(data)
}

// ValidateJSON validates raw config JSON against the schema
func ValidateJSON(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}
