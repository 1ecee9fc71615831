package mqtt

import "fmt"

// Topic prefixes for the link's share of the local bus.
const (
	TopicPrefix = "arlolink"

	TopicPrefixDevice  = TopicPrefix + "/device"
	TopicPrefixSystem  = TopicPrefix + "/system"
	TopicPrefixSession = TopicPrefix + "/session"
)

// RootParent names the device tree root in child-list topics.
const RootParent = "root"

// Topics provides builders for the link's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceManifest("A1B2C3")   // arlolink/device/A1B2C3/manifest
//	topics.DeviceChildren("")         // arlolink/device/root/children
type Topics struct{}

// DeviceManifest returns the retained manifest topic of a device.
//
// Example: arlolink/device/59U17B7HA1234/manifest
func (Topics) DeviceManifest(nativeID string) string {
	return fmt.Sprintf("%s/%s/manifest", TopicPrefixDevice, nativeID)
}

// DeviceChildren returns the retained child-list topic of a parent.
// An empty parent addresses the root of the tree.
//
// Example: arlolink/device/59U17B7HA1234/children
func (Topics) DeviceChildren(parent string) string {
	if parent == "" {
		parent = RootParent
	}
	return fmt.Sprintf("%s/%s/children", TopicPrefixDevice, parent)
}

// DeviceEvent returns the topic cloud events for a device are relayed on.
//
// Example: arlolink/device/59U17B7HA1234/event
func (Topics) DeviceEvent(nativeID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixDevice, nativeID)
}

// SessionState returns the retained session state topic.
//
// Example: arlolink/session/state
func (Topics) SessionState() string {
	return TopicPrefixSession + "/state"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: arlolink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllDeviceManifests matches every manifest topic.
//
// Pattern: arlolink/device/+/manifest
func (Topics) AllDeviceManifests() string {
	return TopicPrefixDevice + "/+/manifest"
}

// AllDeviceChildren matches every child-list topic.
//
// Pattern: arlolink/device/+/children
func (Topics) AllDeviceChildren() string {
	return TopicPrefixDevice + "/+/children"
}

// AllDeviceEvents matches every relayed cloud event topic.
//
// Pattern: arlolink/device/+/event
func (Topics) AllDeviceEvents() string {
	return TopicPrefixDevice + "/+/event"
}

// AllTopics matches everything the link publishes.
//
// Pattern: arlolink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
