package devicetype

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	addressPattern         = `^\s*\d{1,2}/\d{1,2}/\d{1,3}\s*$`
	optionalAddressPattern = `^(\s*|\s*\d{1,2}/\d{1,2}/\d{1,3}\s*)$`
)

// Action is a declared app action. Actions are published with the schema
// but not handled by the bridge.
type Action struct {
	Name   string            `json:"name"`
	Schema map[string]string `json:"schema"`
}

var actions = []Action{
	{Name: "Disconnect", Schema: map[string]string{}},
	{Name: "Read group address", Schema: map[string]string{"address": "String"}},
	{Name: "Write group address", Schema: map[string]string{"address": "String", "value": "String", "dpt": "String"}},
}

// ConfigSchema returns the declarative configuration form registered with
// the catalog at startup: the general section, one schema per device type
// and the action list.
func ConfigSchema() map[string]any {
	schemas := make([]map[string]any, 0, len(All()))
	for _, k := range All() {
		schemas = append(schemas, k.formSchema())
	}
	return map[string]any{
		"general": map[string]any{
			"gatewayHost": map[string]any{"type": string(FieldString)},
		},
		"deviceSchemas": schemas,
		"actions":       actions,
	}
}

func (k *Kind) formSchema() map[string]any {
	s := map[string]any{
		"name":        k.Descriptor.Name,
		"type":        string(k.Type),
		"description": k.Descriptor.Description,
	}
	for _, f := range k.Descriptor.Fields {
		s[f.Name] = fieldForm(f.Kind, f.Optional)
		if f.Kind == FieldArray {
			s[f.Name+".$"] = fieldForm(FieldString, f.Optional)
		}
	}
	return s
}

func fieldForm(kind FieldKind, optional bool) map[string]any {
	form := map[string]any{"type": string(kind)}
	if optional {
		form["optional"] = true
	}
	return form
}

// Validate checks a device config against the type's field declarations:
// required fields present, every address field a group address or, for
// array fields, a list of them.
func (k *Kind) Validate(config map[string]any) error {
	schema, err := k.compiled()
	if err != nil {
		return err
	}

	// Round-trip through JSON so values have the shapes the validator expects.
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, k.Type, err)
	}
	return nil
}

func (k *Kind) compiled() (*jsonschema.Schema, error) {
	k.schemaOnce.Do(func() {
		data, err := json.Marshal(k.jsonSchema())
		if err != nil {
			k.schemaErr = fmt.Errorf("encoding %s schema: %w", k.Type, err)
			return
		}

		name := string(k.Type) + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			k.schemaErr = fmt.Errorf("adding %s schema: %w", k.Type, err)
			return
		}
		k.schema, k.schemaErr = compiler.Compile(name)
	})
	return k.schema, k.schemaErr
}

func (k *Kind) jsonSchema() map[string]any {
	properties := make(map[string]any, len(k.Descriptor.Fields))
	required := []string{}

	for _, f := range k.Descriptor.Fields {
		address := map[string]any{"type": "string", "pattern": addressPattern}
		if f.Optional {
			address = map[string]any{"type": []any{"string", "null"}, "pattern": optionalAddressPattern}
		} else {
			required = append(required, f.Name)
		}

		switch f.Kind {
		case FieldArray:
			properties[f.Name] = map[string]any{
				"oneOf": []any{
					address,
					map[string]any{"type": "array", "items": address},
				},
			}
		default:
			properties[f.Name] = address
		}
	}

	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
