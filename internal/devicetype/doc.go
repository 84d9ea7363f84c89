// Package devicetype is the registry of supported device types.
//
// The set of types is closed: Lookup selects one by an explicit switch and
// reports ErrUnknownDeviceType for anything else. Each Kind is plain data,
// a descriptor of the configuration fields the type accepts plus the
// ordered datapoints it provisions. The synchronization engine interprets
// that data; nothing here talks to the network.
package devicetype
