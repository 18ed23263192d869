// Package bridge mirrors the guest registry onto MQTT and InfluxDB and
// accepts score commands from MQTT.
//
// On every registry update Run compares the snapshot with the last one it
// published. Each guest whose report time or press counter moved gets a
// retained state message and an activity point; the full snapshot is
// republished alongside. Score commands arrive as JSON:
//
//	guestlink/command/score  {"mac":"AA:BB:CC:00:00:01","score":12}
//
// Publisher and ActivityWriter are both optional, so the bridge runs with
// either backend disabled.
package bridge
