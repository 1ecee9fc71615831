// Package registry is the host device registry the Arlo link reports into.
//
// The discovery engine announces devices one at a time with DeviceDiscovered
// and then declares complete child lists with DevicesChanged. A
// DevicesChanged call is authoritative for its parent: children that are not
// listed are removed together with everything below them. DeviceDiscovered
// never removes anything, so devices outside the current pass survive.
//
// # Storage and fan-out
//
//	discovery ──▶ Registry ──▶ Repository (SQLite devices table)
//	                 │
//	                 ├──▶ Publisher (retained arlolink/device/... topics)
//	                 └──▶ OnChange listener (websocket hub)
//
// Retained topics:
//
//	arlolink/device/{nativeId}/manifest   manifest JSON
//	arlolink/device/{parent}/children     sorted child native IDs
//	arlolink/device/root/children         root devices
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Tree mutations are serialised;
// reads are served from a cache of deep copies.
package registry
