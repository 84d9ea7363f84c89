// Package catalog is the client for the remote device catalog.
//
// The catalog owns device and datapoint records. The bridge reads the app's
// general configuration and device list from it on every reload, creates
// datapoints that do not exist yet, and registers its configuration schema
// once at startup.
//
// All requests carry the app's bearer token. Any transport failure or
// non-2xx answer is reported as ErrRemoteUnavailable.
package catalog
