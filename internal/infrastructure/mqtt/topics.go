package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Guestlink topic.
const TopicPrefix = "guestlink"

// Topics provides builders for Guestlink MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.GuestState("AA:BB:CC:00:00:01")
//	// Returns: "guestlink/state/guest/AA:BB:CC:00:00:01"
type Topics struct{}

// GuestState returns the retained per-guest state topic.
//
// Example: guestlink/state/guest/AA:BB:CC:00:00:01
func (Topics) GuestState(mac string) string {
	return fmt.Sprintf("%s/state/guest/%s", TopicPrefix, mac)
}

// GuestsSnapshot returns the retained topic carrying the whole registry.
//
// Example: guestlink/state/guests
func (Topics) GuestsSnapshot() string {
	return TopicPrefix + "/state/guests"
}

// ScoreCommand returns the topic score pushes are accepted on.
//
// Example: guestlink/command/score
func (Topics) ScoreCommand() string {
	return TopicPrefix + "/command/score"
}

// SystemStatus returns the online/offline status topic, also used for the
// Last Will and Testament.
//
// Example: guestlink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllGuestStates returns a pattern matching every per-guest state topic.
//
// Pattern: guestlink/state/guest/+
func (Topics) AllGuestStates() string {
	return TopicPrefix + "/state/guest/+"
}

// AllTopics returns a pattern matching all Guestlink topics.
//
// Pattern: guestlink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// GuestFromTopic extracts the MAC from a per-guest state topic.
//
// Returns false if topic is not a guest state topic.
func (Topics) GuestFromTopic(topic string) (string, bool) {
	prefix := TopicPrefix + "/state/guest/"
	mac, ok := strings.CutPrefix(topic, prefix)
	if !ok || mac == "" || strings.Contains(mac, "/") {
		return "", false
	}
	return mac, true
}
