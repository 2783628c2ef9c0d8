package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Embedded schema sources. Kept as Go string constants rather than
// go:embed files so the config package has no filesystem dependency for
// its own correctness.
const registrySchemaSrc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "projects"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "projects": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["localPath"],
        "properties": {
          "localPath": {"type": "string", "minLength": 1},
          "registeredAt": {"type": "string"},
          "lastUsed": {"type": "string"}
        }
      }
    },
    "defaultProject": {"type": ["string", "null"]}
  }
}`

const opsOverrideSchemaSrc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "pollIntervalSeconds": {"type": ["integer", "null"], "minimum": 1},
    "maxConcurrent": {"type": ["integer", "null"], "minimum": 1},
    "childTimeoutSeconds": {"type": ["integer", "null"], "minimum": 1},
    "idleWarnSeconds": {"type": ["integer", "null"], "minimum": 1},
    "idleSeconds": {"type": ["integer", "null"], "minimum": 1}
  }
}`

var (
	compileOnce      sync.Once
	registrySchema    *jsonschema.Schema
	opsOverrideSchema *jsonschema.Schema
	compileErr        error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("registry.json", bytes.NewReader([]byte(registrySchemaSrc))); err != nil {
			compileErr = fmt.Errorf("config: add registry schema resource: %w", err)
			return
		}
		if err := c.AddResource("ops_override.json", bytes.NewReader([]byte(opsOverrideSchemaSrc))); err != nil {
			compileErr = fmt.Errorf("config: add ops-override schema resource: %w", err)
			return
		}
		var err error
		registrySchema, err = c.Compile("registry.json")
		if err != nil {
			compileErr = fmt.Errorf("config: compile registry schema: %w", err)
			return
		}
		opsOverrideSchema, err = c.Compile("ops_override.json")
		if err != nil {
			compileErr = fmt.Errorf("config: compile ops-override schema: %w", err)
			return
		}
	})
	return compileErr
}

// ValidateRegistryJSON validates raw projects.json bytes against the
// registry schema.
func ValidateRegistryJSON(raw []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: registry is not valid JSON: %w", err)
	}
	return registrySchema.Validate(v)
}

// ValidateOpsOverrideJSON validates the JSON-encoded form of an OpsOverride
// (the YAML file is decoded then re-marshaled to JSON so one schema
// authors both encodings).
func ValidateOpsOverrideJSON(raw []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: ops override is not valid JSON: %w", err)
	}
	return opsOverrideSchema.Validate(v)
}
