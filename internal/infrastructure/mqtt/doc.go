// Package mqtt connects the bridge to the Fora message bus.
//
// The client wraps paho.mqtt.golang with:
//   - presence on apps/{appId}/online ("true" on connect, "false" as will
//     message and on clean shutdown, both retained)
//   - subscription tracking with restore after reconnect
//   - panic recovery around message handlers
//
// Topics builds the app and datapoint topics:
//
//	apps/{appId}/online | log | command | notify
//	dps/{datapointId}            retained status value
//	dps/{datapointId}/control    JSON value to write to the fieldbus
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.App.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Notify(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
