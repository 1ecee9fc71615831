// Package mqtt connects the Arlo cloud link to the local MQTT bus.
//
// The host device registry consumes the link's output over this bus:
//
//	Arlo cloud ↔ arlolink ↔ MQTT broker ↔ device registry
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained publishing of device manifests and child lists
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// It is not used for the Arlo cloud's own event stream, which speaks MQTT
// over websockets to a different broker with per-session credentials; see
// package cloud.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceManifest("59U17B7HA1234")
//	client.PublishJSON(topic, manifest)
package mqtt
