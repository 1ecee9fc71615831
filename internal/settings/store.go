package settings

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arlo/internal/mailbox"
)

// AuthSnapshot is the raw persisted session state, used to roll back a
// failed relogin.
type AuthSnapshot struct {
	Headers string
	UserID  string
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Sealer encrypts the persisted auth headers. Nil stores them unsealed.
	Sealer *Sealer

	// Sender and Mailbox complete the mailbox poller configuration; they are
	// not user settings.
	Sender  string
	Mailbox string
}

// Store gives typed access to the settings held in a Storage.
//
// Enumerated and numeric settings fall back to their default when missing
// or unrecognised, and the default is written back.
type Store struct {
	storage Storage
	opts    StoreOptions
}

// NewStore wraps storage.
func NewStore(storage Storage, opts StoreOptions) *Store {
	return &Store{storage: storage, opts: opts}
}

// Get returns the raw value of key, or "" when it is not set.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, _, err := s.storage.GetItem(ctx, key)
	return v, err
}

// Set writes the raw value of key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.storage.SetItem(ctx, key, value)
}

func (s *Store) choice(ctx context.Context, key string, choices []string, def string) (string, error) {
	v, ok, err := s.storage.GetItem(ctx, key)
	if err != nil {
		return "", err
	}
	if ok && slices.Contains(choices, v) {
		return v, nil
	}
	if err := s.storage.SetItem(ctx, key, def); err != nil {
		return "", err
	}
	return def, nil
}

func (s *Store) integer(ctx context.Context, key string, def int) (int, error) {
	v, ok, err := s.storage.GetItem(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || v == "" {
		if err := s.storage.SetItem(ctx, key, strconv.Itoa(def)); err != nil {
			return 0, err
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: stored %s %q is not an integer", ErrInvalidSetting, key, v)
	}
	return n, nil
}

// Transport returns the event stream transport ("MQTT" or "SSE").
func (s *Store) Transport(ctx context.Context) (string, error) {
	return s.choice(ctx, KeyTransport, TransportChoices, DefaultTransport)
}

// Verbosity returns "Normal" or "Verbose".
func (s *Store) Verbosity(ctx context.Context) (string, error) {
	return s.choice(ctx, KeyVerbosity, VerbosityChoices, DefaultVerbosity)
}

// MFAStrategy returns "Manual" or "IMAP".
func (s *Store) MFAStrategy(ctx context.Context) (string, error) {
	return s.choice(ctx, KeyMFAStrategy, MFAStrategyChoices, DefaultMFAStrategy)
}

// RefreshInterval returns the event stream refresh interval in minutes.
func (s *Store) RefreshInterval(ctx context.Context) (int, error) {
	return s.integer(ctx, KeyRefreshInterval, DefaultRefreshInterval)
}

// Credentials returns the Arlo account username and password.
func (s *Store) Credentials(ctx context.Context) (username, password string, err error) {
	if username, err = s.Get(ctx, KeyUsername); err != nil {
		return "", "", err
	}
	if password, err = s.Get(ctx, KeyPassword); err != nil {
		return "", "", err
	}
	return username, password, nil
}

// IMAPConfig assembles the mailbox poller configuration.
func (s *Store) IMAPConfig(ctx context.Context) (mailbox.Config, error) {
	var (
		cfg mailbox.Config
		err error
	)
	if cfg.Host, err = s.Get(ctx, KeyIMAPHost); err != nil {
		return cfg, err
	}
	if cfg.Port, err = s.integer(ctx, KeyIMAPPort, DefaultIMAPPort); err != nil {
		return cfg, err
	}
	if cfg.Username, err = s.Get(ctx, KeyIMAPUsername); err != nil {
		return cfg, err
	}
	if cfg.Password, err = s.Get(ctx, KeyIMAPPassword); err != nil {
		return cfg, err
	}
	if cfg.IntervalDays, err = s.integer(ctx, KeyIMAPInterval, DefaultIMAPInterval); err != nil {
		return cfg, err
	}
	cfg.Sender = s.opts.Sender
	cfg.Mailbox = s.opts.Mailbox
	return cfg, nil
}

// AuthToken returns the persisted auth headers and user ID. A nil token means
// no usable session is stored; a sealed token that cannot be opened counts
// as none.
func (s *Store) AuthToken(ctx context.Context) (cloud.Token, string, error) {
	raw, err := s.Get(ctx, KeyAuthHeaders)
	if err != nil {
		return nil, "", err
	}
	userID, err := s.Get(ctx, KeyUserID)
	if err != nil {
		return nil, "", err
	}
	if raw == "" {
		return nil, userID, nil
	}

	plain, err := s.opts.Sealer.Open(raw)
	if err != nil {
		return nil, userID, fmt.Errorf("opening stored auth headers: %w", err)
	}
	token, err := cloud.ParseToken(plain)
	if err != nil {
		return nil, userID, fmt.Errorf("parsing stored auth headers: %w", err)
	}
	return token, userID, nil
}

// SaveAuth persists the auth headers and user ID of a completed login.
func (s *Store) SaveAuth(ctx context.Context, token cloud.Token, userID string) error {
	plain, err := token.Marshal()
	if err != nil {
		return fmt.Errorf("encoding auth headers: %w", err)
	}
	sealed, err := s.opts.Sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing auth headers: %w", err)
	}
	if err := s.Set(ctx, KeyAuthHeaders, sealed); err != nil {
		return err
	}
	return s.Set(ctx, KeyUserID, userID)
}

// ClearAuth forgets the persisted session.
func (s *Store) ClearAuth(ctx context.Context) error {
	return s.RestoreAuth(ctx, AuthSnapshot{})
}

// SnapshotAuth captures the persisted session as stored.
func (s *Store) SnapshotAuth(ctx context.Context) (AuthSnapshot, error) {
	var (
		snap AuthSnapshot
		err  error
	)
	if snap.Headers, err = s.Get(ctx, KeyAuthHeaders); err != nil {
		return snap, err
	}
	if snap.UserID, err = s.Get(ctx, KeyUserID); err != nil {
		return snap, err
	}
	return snap, nil
}

// RestoreAuth writes back a snapshot taken by SnapshotAuth.
func (s *Store) RestoreAuth(ctx context.Context, snap AuthSnapshot) error {
	if err := s.Set(ctx, KeyAuthHeaders, snap.Headers); err != nil {
		return err
	}
	return s.Set(ctx, KeyUserID, snap.UserID)
}

// Seed copies values from the config file into empty settings. Stored
// values win, so edits made through the API survive restarts.
func (s *Store) Seed(ctx context.Context, cfg *config.Config) error {
	seeds := []struct {
		key, value string
	}{
		{KeyUsername, cfg.Arlo.Username},
		{KeyPassword, cfg.Arlo.Password},
		{KeyMFAStrategy, cfg.Arlo.MFAStrategy},
		{KeyTransport, cfg.Arlo.Transport},
		{KeyRefreshInterval, strconv.Itoa(cfg.Arlo.RefreshInterval)},
		{KeyVerbosity, cfg.Arlo.Verbosity},
		{KeyIMAPHost, cfg.IMAP.Host},
		{KeyIMAPPort, strconv.Itoa(cfg.IMAP.Port)},
		{KeyIMAPUsername, cfg.IMAP.Username},
		{KeyIMAPPassword, cfg.IMAP.Password},
		{KeyIMAPInterval, strconv.Itoa(cfg.IMAP.IntervalDays)},
	}
	for _, seed := range seeds {
		if seed.value == "" {
			continue
		}
		_, ok, err := s.storage.GetItem(ctx, seed.key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := s.storage.SetItem(ctx, seed.key, seed.value); err != nil {
			return err
		}
	}
	return nil
}
