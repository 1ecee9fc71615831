package cloud

import (
	"context"
	"encoding/json"
	"slices"
)

// Category is the device type reported by the cloud device list.
type Category string

// Device categories.
const (
	CategoryBasestation Category = "basestation"
	CategorySiren       Category = "siren"
	CategoryCamera      Category = "camera"
	CategoryArloQ       Category = "arloq"
	CategoryArloQS      Category = "arloqs"
	CategoryDoorbell    Category = "doorbell"
)

// HubCategories are the categories that own child devices.
var HubCategories = []Category{CategoryBasestation, CategorySiren}

// CameraCategories are the categories attached to a hub (or standalone).
var CameraCategories = []Category{CategoryCamera, CategoryArloQ, CategoryArloQS, CategoryDoorbell}

// IsHub reports whether c is one of HubCategories.
func (c Category) IsHub() bool {
	return slices.Contains(HubCategories, c)
}

// Transport selects how the cloud event stream is carried.
type Transport string

// Event stream transports. MQTT is primary, SSE secondary.
const (
	TransportMQTT Transport = "MQTT"
	TransportSSE  Transport = "SSE"
)

// RemoteDevice is one entry of the cloud device list.
type RemoteDevice struct {
	DeviceID   string `json:"deviceId"`
	ParentID   string `json:"parentId"`
	DeviceType string `json:"deviceType"`
	ModelID    string `json:"modelId"`
	DeviceName string `json:"deviceName"`
	XCloudID   string `json:"xCloudId"`
	UniqueID   string `json:"uniqueId"`
}

// Category returns the device's category.
func (d RemoteDevice) Category() Category {
	return Category(d.DeviceType)
}

// Standalone reports whether the device acts as its own hub.
func (d RemoteDevice) Standalone() bool {
	return d.DeviceID == d.ParentID
}

// Token is the set of HTTP headers that authenticates a session. It is
// persisted as JSON so a restart can skip MFA.
type Token map[string]string

// Marshal serialises the token for storage.
func (t Token) Marshal() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseToken is the inverse of Token.Marshal. An empty string yields nil.
func ParseToken(s string) (Token, error) {
	if s == "" {
		return nil, nil
	}
	var t Token
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, err
	}
	return t, nil
}

// Clone returns an independent copy.
func (t Token) Clone() Token {
	if t == nil {
		return nil
	}
	out := make(Token, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Subscription pairs a device with the hub its events arrive through.
type Subscription struct {
	Hub    RemoteDevice
	Device RemoteDevice
}

// Resume completes a login that is waiting for an MFA code.
type Resume func(ctx context.Context, code string) error

// Event is one message from the cloud event stream.
type Event struct {
	From     string          `json:"from"`
	Resource string          `json:"resource"`
	Action   string          `json:"action"`
	Raw      json.RawMessage `json:"-"`
}

// Client is the cloud session the rest of the link drives.
type Client interface {
	// Login starts a password login and returns the handle that completes
	// it once the MFA code is known.
	Login(ctx context.Context, username, password string) (Resume, error)

	// LoginWithToken restores a session from persisted auth headers.
	LoginWithToken(ctx context.Context, userID string, token Token) error

	Token() Token
	UserID() string

	// Subscribe opens the event stream for the given devices.
	Subscribe(ctx context.Context, subs []Subscription) error

	// Unsubscribe closes the event stream. Safe to call more than once.
	Unsubscribe()

	ListDevices(ctx context.Context, categories ...Category) ([]RemoteDevice, error)

	// SetEventRefreshInterval reconnects the event stream every minutes
	// minutes. Zero disables.
	SetEventRefreshInterval(minutes int)
}
