package mqtt

import (
	"strings"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/config"
)

// Default device channels.
const (
	// DefaultCommandTopic carries commands to the beacons.
	DefaultCommandTopic = "fiap/iot/echobeacon/comando"

	// DefaultStatusTopic carries status replies from the beacons.
	DefaultStatusTopic = "fiap/iot/echobeacon/status"
)

// Topics names the two channels shared with the beacons.
//
//	topics := mqtt.TopicsFromConfig(cfg.Topics)
//	client.Publish(topics.Command, payload)
type Topics struct {
	Command string
	Status  string
}

// TopicsFromConfig returns the configured topics, falling back to the defaults.
func TopicsFromConfig(cfg config.TopicsConfig) Topics {
	t := Topics{Command: cfg.Command, Status: cfg.Status}
	if t.Command == "" {
		t.Command = DefaultCommandTopic
	}
	if t.Status == "" {
		t.Status = DefaultStatusTopic
	}
	return t
}

// TopicMatches reports whether topic matches the subscription filter,
// following MQTT wildcard rules: '+' matches exactly one level and '#'
// matches the remaining levels, including none.
//
//	TopicMatches("fiap/iot/+/status", "fiap/iot/echobeacon/status") // true
//	TopicMatches("fiap/#", "fiap")                                  // true
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	// Wildcards at the first level never match topics starting with '$'.
	if strings.HasPrefix(topic, "$") && (fl[0] == "+" || fl[0] == "#") {
		return false
	}

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
