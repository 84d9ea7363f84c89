// Package engine synchronizes catalog devices with the KNX bus.
//
// A pass (Reload) fetches the app config and device list, tears down the
// previous pass, then provisions each device in order. For every datapoint
// of the device's type it ensures the catalog record exists, binds the
// configured status addresses and publishes their changes retained on
// dps/{id}, and registers the control address in a fresh control.Router
// behind dps/{id}/control.
//
// Devices move through Unprovisioned, DatapointsResolving and end in
// BindingsActive or Failed. A failure is recorded on that device only.
package engine
