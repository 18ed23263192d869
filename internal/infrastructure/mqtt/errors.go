package mqtt

import (
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker operation errors. Every error returned by Client methods matches
// one of the operation sentinels (ErrPublishFailed, ErrSubscribeFailed,
// ErrUnsubscribeFailed) and, where it applies, the cause sentinel.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic    = errors.New("mqtt: invalid topic")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
	ErrTimeout         = errors.New("mqtt: broker did not acknowledge in time")
)

// Broker operations named in OpError.
const (
	opPublish     = "publish"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// OpError is a failed broker operation on one topic.
type OpError struct {
	Op    string
	Topic string
	Err   error
}

func (e *OpError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s %q: %v", e.Op, e.Topic, e.Err)
}

// Unwrap exposes both the operation sentinel and the cause to errors.Is.
func (e *OpError) Unwrap() []error {
	return []error{opSentinel(e.Op), e.Err}
}

func opSentinel(op string) error {
	switch op {
	case opSubscribe:
		return ErrSubscribeFailed
	case opUnsubscribe:
		return ErrUnsubscribeFailed
	default:
		return ErrPublishFailed
	}
}

// await blocks until the broker acknowledges token or defaultPublishTimeout
// passes.
func await(token pahomqtt.Token, op, topic string) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return &OpError{Op: op, Topic: topic, Err: fmt.Errorf("%w after %v", ErrTimeout, defaultPublishTimeout)}
	}
	if err := token.Error(); err != nil {
		return &OpError{Op: op, Topic: topic, Err: err}
	}
	return nil
}
