package mqtt

import (
	"errors"
)

var errNilHandler = errors.New("handler cannot be nil")

// SubscribeScores delivers score commands published on
// guestlink/command/score to handler.
//
// The subscription is tracked and restored by handleConnect after a
// reconnect. Handlers run on paho's goroutines; a panic is recovered and
// a returned error is logged.
func (c *Client) SubscribeScores(qos byte, handler MessageHandler) error {
	return c.subscribe(Topics{}.ScoreCommand(), qos, handler)
}

// UnsubscribeScores stops score command delivery. Score commands already
// in flight may still reach the handler.
func (c *Client) UnsubscribeScores() error {
	return c.unsubscribe(Topics{}.ScoreCommand())
}

func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return &OpError{Op: opSubscribe, Err: ErrInvalidTopic}
	case qos > maxQoS:
		return &OpError{Op: opSubscribe, Topic: topic, Err: ErrInvalidQoS}
	case handler == nil:
		return &OpError{Op: opSubscribe, Topic: topic, Err: errNilHandler}
	case !c.IsConnected():
		return &OpError{Op: opSubscribe, Topic: topic, Err: ErrNotConnected}
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), opSubscribe, topic); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

func (c *Client) unsubscribe(topic string) error {
	if topic == "" {
		return &OpError{Op: opUnsubscribe, Err: ErrInvalidTopic}
	}
	if !c.IsConnected() {
		return &OpError{Op: opUnsubscribe, Topic: topic, Err: ErrNotConnected}
	}

	// Forget first so a reconnect racing with this call does not restore it.
	c.forget(topic)
	return await(c.client.Unsubscribe(topic), opUnsubscribe, topic)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
