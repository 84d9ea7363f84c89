package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds outbound payloads. Status values are a few bytes;
// the largest message is a remote log line.
const maxPayloadSize = 256 << 10

// Publish sends payload to topic and waits for the broker acknowledgement
// required by qos.
//
// Parameters:
//   - topic: Full topic, see Topics for the app and datapoint topics
//   - payload: Message body, at most 256 KiB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for late subscribers
//
// Returns:
//   - error: ErrNotConnected, a validation error, or ErrPublishFailed
//     (wrapping ErrTimeout when no acknowledgement arrives)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload on %s (limit %d)", ErrPublishFailed, len(payload), topic, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// await waits for a broker acknowledgement and wraps failures in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", op, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}
