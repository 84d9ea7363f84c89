// Package influxdb records datapoint status values in InfluxDB using the
// official influxdb-client-go v2 library.
//
// Every value the bridge publishes on a dps/{id} topic can also be written
// to the datapoint_values measurement, tagged with device_id, datapoint_id
// and name. Writes are batched and non-blocking; failures arrive on the
// SetOnError callback.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDatapointValue("dev-1", "dp-9", "temperature", 21.5)
package influxdb
