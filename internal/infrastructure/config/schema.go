package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// busSchema describes the bus section of config.yaml.
const busSchema = `{
  "type": "object",
  "properties": {
    "dsn": {"type": "string", "minLength": 1},
    "cafile": {"type": "string"},
    "certfile": {"type": "string"},
    "keyfile": {"type": "string"},
    "keep_alive": {"type": "integer", "minimum": 1},
    "ping_delay": {"type": "integer", "minimum": 1},
    "reconnect_delay": {"type": "integer", "minimum": 1},
    "connect_timeout": {"type": "integer", "minimum": 1},
    "clean_session": {"type": "boolean"},
    "handler_warn_threshold": {"type": "integer", "minimum": 0},
    "monitor": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "status_topic": {"type": "string"}
  },
  "additionalProperties": false
}`

var busSchemaLoader = gojsonschema.NewStringLoader(busSchema)

// validateBusSection checks the raw bus section of a config file against
// busSchema. A file without a bus section is accepted (defaults apply).
func validateBusSection(data []byte) error {
	var raw struct {
		Bus map[string]any `yaml:"bus"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing bus section: %w", err)
	}
	if raw.Bus == nil {
		return nil
	}

	result, err := gojsonschema.Validate(busSchemaLoader, gojsonschema.NewGoLoader(raw.Bus))
	if err != nil {
		return fmt.Errorf("checking bus section: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: bus section does not match schema: %s", transport.ErrConfiguration, strings.Join(msgs, "; "))
}
