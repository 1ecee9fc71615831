package settings

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
)

// User-settable keys.
const (
	KeyUsername        = "arlo_username"
	KeyPassword        = "arlo_password"
	KeyMFAStrategy     = "mfa_strategy"
	KeyMFACode         = "arlo_mfa_code"
	KeyForceReauth     = "force_reauth"
	KeyTransport       = "arlo_transport"
	KeyRefreshInterval = "refresh_interval"
	KeyVerbosity       = "plugin_verbosity"
	KeyIMAPHost        = "imap_mfa_host"
	KeyIMAPPort        = "imap_mfa_port"
	KeyIMAPUsername    = "imap_mfa_username"
	KeyIMAPPassword    = "imap_mfa_password"
	KeyIMAPInterval    = "imap_mfa_interval"
)

// Persisted session state. Not settable through Put.
const (
	KeyAuthHeaders = "arlo_auth_headers"
	KeyUserID      = "arlo_user_id"
)

// imapPrefix marks keys that restart the mailbox poller.
const imapPrefix = "imap_mfa"

// Defaults written back to storage the first time they are read.
const (
	DefaultTransport       = config.TransportSSE
	DefaultVerbosity       = config.VerbosityNormal
	DefaultMFAStrategy     = config.MFAStrategyManual
	DefaultRefreshInterval = 90
	DefaultIMAPPort        = 993
	DefaultIMAPInterval    = 7
)

var (
	TransportChoices   = []string{config.TransportMQTT, config.TransportSSE}
	MFAStrategyChoices = []string{config.MFAStrategyManual, config.MFAStrategyIMAP}
	VerbosityChoices   = []string{config.VerbosityNormal, config.VerbosityVerbose}
)

var settableKeys = []string{
	KeyUsername, KeyPassword, KeyMFAStrategy, KeyMFACode, KeyForceReauth,
	KeyTransport, KeyRefreshInterval, KeyVerbosity,
	KeyIMAPHost, KeyIMAPPort, KeyIMAPUsername, KeyIMAPPassword, KeyIMAPInterval,
}

// Settable reports whether key may be written through Put.
func Settable(key string) bool {
	return slices.Contains(settableKeys, key)
}

// Validate checks a raw value for key. Keys without rules always pass.
func Validate(key, value string) error {
	switch key {
	case KeyRefreshInterval:
		return checkInt(key, value, 0, "must be nonnegative")
	case KeyIMAPPort:
		return checkInt(key, value, 0, "must be nonnegative")
	case KeyIMAPInterval:
		return checkInt(key, value, 1, "must be positive")
	case KeyTransport:
		return checkChoice(key, value, TransportChoices)
	case KeyMFAStrategy:
		return checkChoice(key, value, MFAStrategyChoices)
	case KeyVerbosity:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s %q: must be true or false", ErrInvalidSetting, key, value)
		}
	}
	return nil
}

func checkInt(key, value string, minimum int, reason string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %s %q: must be an integer", ErrInvalidSetting, key, value)
	}
	if n < minimum {
		return fmt.Errorf("%w: %s %q: %s", ErrInvalidSetting, key, value, reason)
	}
	return nil
}

func checkChoice(key, value string, choices []string) error {
	if !slices.Contains(choices, value) {
		return fmt.Errorf("%w: %s %q: must be one of %s", ErrInvalidSetting, key, value, strings.Join(choices, ", "))
	}
	return nil
}
