// Package mqtt provides MQTT client connectivity for the Guestlink bridge.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Retained state publishing for guests and the registry snapshot
//   - The score command subscription, restored automatically after reconnect
//   - Last Will and Testament (LWT) on guestlink/system/status
//
// # Topics
//
//	guestlink/state/guest/<MAC>   retained, one per guest
//	guestlink/state/guests        retained, full registry snapshot
//	guestlink/command/score       inbound score pushes
//	guestlink/system/status       online/offline, LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishGuestState("AA:BB:CC:00:00:01", state)
//	err = client.SubscribeScores(1, func(topic string, payload []byte) error {
//	    return handleScore(payload)
//	})
//
// Errors are *OpError values naming the operation and topic; match them
// with errors.Is against the operation and cause sentinels.
//
// Broker-backed tests live behind the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
