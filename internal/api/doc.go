// Package api serves the bridge's admin HTTP API.
//
// Routes (chi):
//
//	GET  /api/v1/health                 bus and fieldbus connectivity
//	GET  /api/v1/devices                device states of the current pass
//	GET  /api/v1/devices/{id}           one device
//	GET  /api/v1/devices/{id}/history   journal records for a device
//	GET  /api/v1/controls               control routing table
//	GET  /api/v1/journal/passes         recent synchronization passes
//	GET  /api/v1/journal/passes/{id}    device outcomes of one pass
//	GET  /api/v1/journal/creations      datapoints created by the bridge
//	POST /api/v1/reload                 run a synchronization pass now
//	GET  /metrics                       Prometheus exposition
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
