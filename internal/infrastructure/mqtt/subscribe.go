package mqtt

import "fmt"

// Subscribe registers handler for topic. The subscription is remembered
// and restored on every reconnect; subscribing again replaces the handler.
//
// Parameters:
//   - topic: Topic filter; wildcards are passed through to the broker
//   - qos: Maximum QoS for delivery
//   - handler: Called on paho's router goroutine; must not block
//
// Returns:
//   - error: ErrNotConnected, a validation error, or ErrSubscribeFailed
//     if the broker rejects the request. Nothing is remembered on failure.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()
	return nil
}

// Unsubscribe drops topic. It is forgotten locally even when the broker
// does not acknowledge, so a reconnect will not restore it.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// Subscribed lists the remembered topics in no particular order.
func (c *Client) Subscribed() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	topics := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		topics = append(topics, t)
	}
	return topics
}
