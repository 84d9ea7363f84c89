package engine

import (
	"time"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
)

// DeviceState is the provisioning state of one device within a pass.
type DeviceState string

const (
	StateUnprovisioned       DeviceState = "unprovisioned"
	StateDatapointsResolving DeviceState = "datapoints_resolving"
	StateBindingsActive      DeviceState = "bindings_active"
	StateFailed              DeviceState = "failed"
)

// Terminal reports whether the state ends provisioning for the pass.
func (s DeviceState) Terminal() bool {
	return s == StateBindingsActive || s == StateFailed
}

// DatapointStatus describes a provisioned datapoint.
type DatapointStatus struct {
	Name             string   `json:"name"`
	ID               string   `json:"id"`
	Created          bool     `json:"created"`
	StatusTopic      string   `json:"status_topic,omitempty"`
	ControlTopic     string   `json:"control_topic,omitempty"`
	StatusAddresses  []string `json:"status_addresses,omitempty"`
	ControlAddresses []string `json:"control_addresses,omitempty"`
	Echo             bool     `json:"echo"`
}

// DeviceStatus is the outcome of provisioning one device.
type DeviceStatus struct {
	DeviceID   string            `json:"device_id"`
	Type       string            `json:"type"`
	State      DeviceState       `json:"state"`
	Error      string            `json:"error,omitempty"`
	Bindings   int               `json:"bindings"`
	Datapoints []DatapointStatus `json:"datapoints"`
}

// Summary describes the most recent pass.
type Summary struct {
	Trigger    string    `json:"trigger"`
	Gateway    string    `json:"gateway"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Devices    int       `json:"devices"`
	Active     int       `json:"active"`
	Failed     int       `json:"failed"`
	Bindings   int       `json:"bindings"`
	Controls   int       `json:"controls"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot is a consistent view of the engine for the admin API.
type Snapshot struct {
	Connected bool           `json:"fieldbus_connected"`
	LastPass  *Summary       `json:"last_pass,omitempty"`
	Devices   []DeviceStatus `json:"devices"`

	// Live counts from the current session and router. Gateway is nil
	// until a session has been opened.
	Bindings      int            `json:"bindings"`
	ControlRoutes int            `json:"control_routes"`
	Gateway       *knx.KNXDStats `json:"gateway,omitempty"`
}
