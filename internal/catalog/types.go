package catalog

import "encoding/json"

// ValueType is the semantic type of a datapoint.
type ValueType string

const (
	ValueBoolean ValueType = "Boolean"
	ValueNumber  ValueType = "Number"
	ValueString  ValueType = "String"
)

// Device is a field device as stored in the catalog.
type Device struct {
	ID         string         `json:"_id"`
	General    DeviceGeneral  `json:"general"`
	Config     map[string]any `json:"config"`
	Datapoints []Datapoint    `json:"datapoints"`
}

// DeviceGeneral holds the descriptive part of a device record.
type DeviceGeneral struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// Type returns the device type identifier.
func (d *Device) Type() string { return d.General.Type }

// Datapoint is a named, typed signal belonging to one device.
type Datapoint struct {
	ID       string          `json:"_id"`
	DeviceID string          `json:"deviceId,omitempty"`
	Name     string          `json:"name"`
	Config   DatapointConfig `json:"config"`
}

// DatapointConfig describes a datapoint's value and capabilities.
type DatapointConfig struct {
	Type            ValueType `json:"type"`
	IsControllable  bool      `json:"isControllable"`
	IsStatusable    bool      `json:"isStatusable"`
	MeasurementUnit string    `json:"measurementUnit,omitempty"`
	Min             *float64  `json:"min,omitempty"`
	Max             *float64  `json:"max,omitempty"`
	Step            *float64  `json:"step,omitempty"`
}

// AppConfig is the general configuration entered for this app instance.
type AppConfig struct {
	GatewayHost string `json:"gatewayHost"`

	// Raw keeps every field, including ones this bridge does not know.
	Raw json.RawMessage `json:"-"`
}

type createDatapointRequest struct {
	DeviceID string          `json:"deviceId"`
	Name     string          `json:"name"`
	Config   DatapointConfig `json:"config"`
}

type appResponse struct {
	Config json.RawMessage `json:"config"`
}

type configSchemaRequest struct {
	Config any `json:"config"`
}
