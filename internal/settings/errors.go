package settings

import "errors"

var (
	// ErrInvalidSetting is returned when a value is rejected. The setting is
	// not applied.
	ErrInvalidSetting = errors.New("settings: invalid value")

	// ErrUnknownSetting is returned by Put for keys that are not user settable.
	ErrUnknownSetting = errors.New("settings: unknown key")

	// ErrSealed is returned when a sealed value is read without the key that
	// sealed it.
	ErrSealed = errors.New("settings: value is sealed")
)
