package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDatapointValues holds every status value published to the bus.
const MeasurementDatapointValues = "datapoint_values"

// WriteDatapointValue records one published status value.
//
// Numbers are stored in the "value" field; booleans as 1/0 in "value" plus
// a "state" field. Other value types are ignored. The write is batched.
//
// Parameters:
//   - deviceID: Catalog device ID, stored as the device_id tag
//   - datapointID: Catalog datapoint ID, stored as the datapoint_id tag
//   - name: Datapoint name, stored as the name tag
//   - value: Decoded fieldbus value
func (c *Client) WriteDatapointValue(deviceID, datapointID, name string, value any) {
	if !c.IsConnected() {
		return
	}
	if point := datapointPoint(deviceID, datapointID, name, value, time.Now()); point != nil {
		c.writer.WritePoint(point)
		c.queued.Add(1)
	}
}

func datapointPoint(deviceID, datapointID, name string, value any, ts time.Time) *write.Point {
	fields := make(map[string]any, 2)
	switch v := value.(type) {
	case float64:
		fields["value"] = v
	case int:
		fields["value"] = float64(v)
	case bool:
		fields["state"] = v
		if v {
			fields["value"] = 1.0
		} else {
			fields["value"] = 0.0
		}
	default:
		return nil
	}

	return write.NewPoint(
		MeasurementDatapointValues,
		map[string]string{
			"device_id":    deviceID,
			"datapoint_id": datapointID,
			"name":         name,
		},
		fields,
		ts,
	)
}
