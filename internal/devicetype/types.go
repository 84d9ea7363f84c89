package devicetype

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
)

// Type identifies a device type as stored in the catalog.
type Type string

const (
	BinarySwitch    Type = "binarySwitch"
	DimmableLight   Type = "dimmableLight"
	RoomController1 Type = "roomController1"
)

// FieldKind is the declared shape of a config field.
type FieldKind string

const (
	FieldString FieldKind = "String"
	FieldArray  FieldKind = "Array"
)

// Field is one configuration field of a device type.
type Field struct {
	Name     string
	Kind     FieldKind
	Optional bool
}

// Descriptor is the user-facing description of a device type.
type Descriptor struct {
	Name        string
	Description string
	Fields      []Field
}

// Format selects how a status value is rendered on the bus.
type Format int

const (
	// FormatRaw renders booleans as true/false and numbers in shortest form.
	FormatRaw Format = iota
	// FormatFixed2 renders numbers with exactly two decimals.
	FormatFixed2
)

// Render turns a decoded bus value into its status payload.
func (f Format) Render(value any) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if f == FormatFixed2 {
			return strconv.FormatFloat(v, 'f', 2, 64)
		}
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatFloat(v, 'f', 0, 64)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Capability decides which bindings a datapoint gets.
type Capability int

const (
	// FromRecord follows the catalog record's isStatusable/isControllable
	// flags; at creation they are derived from which fields are configured.
	FromRecord Capability = iota
	// Fixed binds whatever the datapoint definition declares, regardless of the record.
	Fixed
)

// DatapointSpec declares one datapoint a device type provisions.
type DatapointSpec struct {
	Name       string
	ValueType  catalog.ValueType
	Unit       string
	Min        *float64
	Max        *float64
	Step       *float64
	Tag        knx.Tag
	Format     Format
	Capability Capability

	// StatusField and ControlField name the config fields holding the
	// group addresses. Either may be empty.
	StatusField  string
	ControlField string

	// Statusable and Controllable are the declared capabilities used with
	// Fixed, and as creation flags when the field is configured.
	Statusable   bool
	Controllable bool
}

// CreateConfig returns the catalog config used when the datapoint does not
// exist yet.
func (s DatapointSpec) CreateConfig(config map[string]any) catalog.DatapointConfig {
	cfg := catalog.DatapointConfig{
		Type:            s.ValueType,
		MeasurementUnit: s.Unit,
		Min:             s.Min,
		Max:             s.Max,
		Step:            s.Step,
	}
	switch s.Capability {
	case FromRecord:
		cfg.IsStatusable = s.StatusField != "" && configured(config, s.StatusField)
		cfg.IsControllable = s.ControlField != "" && configured(config, s.ControlField)
	case Fixed:
		cfg.IsStatusable = s.Statusable
		cfg.IsControllable = s.Controllable
	}
	return cfg
}

// WantsStatus reports whether status bindings should be made given the
// catalog record.
func (s DatapointSpec) WantsStatus(record catalog.DatapointConfig) bool {
	if s.StatusField == "" {
		return false
	}
	if s.Capability == Fixed {
		return s.Statusable
	}
	return record.IsStatusable
}

// WantsControl reports whether a control binding should be made given the
// catalog record.
func (s DatapointSpec) WantsControl(record catalog.DatapointConfig) bool {
	if s.ControlField == "" {
		return false
	}
	if s.Capability == Fixed {
		return s.Controllable
	}
	return record.IsControllable
}

func configured(config map[string]any, field string) bool {
	src, err := ResolveAddressSource(config[field])
	return err == nil && !src.Empty()
}

// Kind is a supported device type.
type Kind struct {
	Type       Type
	Descriptor Descriptor
	Datapoints []DatapointSpec

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

// Lookup returns the Kind for a catalog type identifier.
func Lookup(t string) (*Kind, error) {
	switch Type(t) {
	case BinarySwitch:
		return binarySwitch, nil
	case DimmableLight:
		return dimmableLight, nil
	case RoomController1:
		return roomController1, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, t)
	}
}

// All returns every supported kind in declaration order.
func All() []*Kind {
	return []*Kind{binarySwitch, dimmableLight, roomController1}
}

func float(v float64) *float64 { return &v }
