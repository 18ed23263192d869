package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps one message at 1MB. A snapshot of a full registry is
// a few kilobytes.
const maxPayloadSize = 1 << 20

// PublishGuestState publishes one guest's JSON state on its retained
// per-guest topic, so a dashboard that connects later sees every guest.
//
// Returns ErrInvalidTopic if mac is empty or contains a topic separator
// or wildcard.
func (c *Client) PublishGuestState(mac string, state []byte) error {
	topic := Topics{}.GuestState(mac)
	if mac == "" || strings.ContainsAny(mac, "/+#") {
		return &OpError{Op: opPublish, Topic: topic, Err: ErrInvalidTopic}
	}
	return c.publish(topic, state, c.qos(), true)
}

// PublishSnapshot publishes the whole registry as a retained message.
func (c *Client) PublishSnapshot(snapshot []byte) error {
	return c.publish(Topics{}.GuestsSnapshot(), snapshot, c.qos(), true)
}

func (c *Client) publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return &OpError{Op: opPublish, Err: ErrInvalidTopic}
	case qos > maxQoS:
		return &OpError{Op: opPublish, Topic: topic, Err: ErrInvalidQoS}
	case len(payload) > maxPayloadSize:
		return &OpError{Op: opPublish, Topic: topic,
			Err: fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)}
	case !c.IsConnected():
		return &OpError{Op: opPublish, Topic: topic, Err: ErrNotConnected}
	}
	return await(c.client.Publish(topic, qos, retained, payload), opPublish, topic)
}

// qos is the configured default QoS, validated to 0..2 by config.
func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated by config
}
