package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arlo/internal/mailbox"
)

// Logger defines the logging interface used by the Facade.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is the part of the session manager setting changes drive.
type Session interface {
	// Client continues or starts a login and returns the client once
	// authenticated.
	Client(ctx context.Context) cloud.Client
	SubmitCode(code string)
	Invalidate(ctx context.Context)
	Reconnect(ctx context.Context)
	SetRefreshInterval(minutes int)
}

// Mailbox is the mailbox poller.
type Mailbox interface {
	Start(ctx context.Context, cfg mailbox.Config) error
	Stop()
}

// Verbosity receives log level changes.
type Verbosity interface {
	SetVerbose(verbose bool)
}

// Setting is one entry of the settings form.
type Setting struct {
	Group       string   `json:"group"`
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Value       any      `json:"value,omitempty"`
	Choices     []string `json:"choices,omitempty"`
}

// Setting groups.
const (
	GroupGeneral = "General"
	GroupIMAP    = "IMAP 2FA"
)

// FacadeOptions wires a Facade to the components it controls.
type FacadeOptions struct {
	Session   Session
	Mailbox   Mailbox
	Verbosity Verbosity
	Logger    Logger

	// OnChange is called after every accepted Put. May be nil.
	OnChange func(key string)
}

// Facade is the settings surface: it lists the form and routes each change
// to the session manager or the mailbox poller.
//
// Put calls are serialised.
type Facade struct {
	store *Store
	opts  FacadeOptions

	mu sync.Mutex
}

// NewFacade creates a Facade over store.
func NewFacade(store *Store, opts FacadeOptions) *Facade {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Facade{store: store, opts: opts}
}

// Start applies the stored verbosity, then either starts the mailbox poller
// (IMAP strategy) or kicks the session.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.propagateVerbosity(ctx); err != nil {
		return err
	}
	transport, err := f.store.Transport(ctx)
	if err != nil {
		return err
	}
	f.opts.Logger.Info("using event stream transport", "transport", transport)

	strategy, err := f.store.MFAStrategy(ctx)
	if err != nil {
		return err
	}
	if strategy == config.MFAStrategyIMAP {
		f.startMailbox(ctx)
		return nil
	}
	f.opts.Session.Client(ctx)
	return nil
}

// Put validates and applies one setting change.
//
// Returns an error wrapping ErrInvalidSetting or ErrUnknownSetting when the
// change is rejected; nothing is stored in that case.
func (f *Facade) Put(ctx context.Context, key, value string) error {
	if !Settable(key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if err := Validate(key, value); err != nil {
		f.opts.Logger.Error("rejected setting", "key", key, "error", err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	skipClient := false
	switch key {
	case KeyMFACode:
		f.opts.Session.SubmitCode(value)
	case KeyForceReauth:
		f.opts.Session.Invalidate(ctx)
	case KeyVerbosity:
		verbose, _ := strconv.ParseBool(value)
		level := config.VerbosityNormal
		if verbose {
			level = config.VerbosityVerbose
		}
		if err := f.store.Set(ctx, key, level); err != nil {
			return err
		}
		if err := f.propagateVerbosity(ctx); err != nil {
			return err
		}
		skipClient = true
	default:
		if err := f.store.Set(ctx, key, value); err != nil {
			return err
		}
		skipClient = f.apply(ctx, key, value)
	}

	if !skipClient {
		f.opts.Session.Client(ctx)
	}
	if f.opts.OnChange != nil {
		f.opts.OnChange(key)
	}
	return nil
}

// apply routes a stored setting. It reports whether the session should be
// left alone afterwards.
func (f *Facade) apply(ctx context.Context, key, value string) bool {
	switch {
	case key == KeyTransport:
		f.opts.Logger.Info("event stream transport changed", "transport", value)
		f.opts.Session.Reconnect(ctx)
		return false
	case key == KeyMFAStrategy:
		if value == config.MFAStrategyIMAP {
			f.startMailbox(ctx)
		} else {
			f.stopMailbox()
		}
		return true
	case key == KeyRefreshInterval:
		minutes, _ := strconv.Atoi(strings.TrimSpace(value))
		f.opts.Session.SetRefreshInterval(minutes)
		return true
	case strings.HasPrefix(key, imapPrefix):
		f.startMailbox(ctx)
		return true
	default:
		f.opts.Session.Invalidate(ctx)
		return false
	}
}

func (f *Facade) startMailbox(ctx context.Context) {
	if f.opts.Mailbox == nil {
		return
	}
	cfg, err := f.store.IMAPConfig(ctx)
	if err != nil {
		f.opts.Logger.Error("reading IMAP settings", "error", err)
		return
	}
	if err := f.opts.Mailbox.Start(ctx, cfg); err != nil {
		if errors.Is(err, mailbox.ErrIncompleteConfig) {
			f.opts.Logger.Info("IMAP settings incomplete, mailbox poller disabled")
			return
		}
		f.opts.Logger.Error("starting mailbox poller", "error", err)
	}
}

func (f *Facade) stopMailbox() {
	if f.opts.Mailbox != nil {
		f.opts.Mailbox.Stop()
	}
}

func (f *Facade) propagateVerbosity(ctx context.Context) error {
	level, err := f.store.Verbosity(ctx)
	if err != nil {
		return err
	}
	f.opts.Logger.Info("setting verbosity", "verbosity", level)
	if f.opts.Verbosity != nil {
		f.opts.Verbosity.SetVerbose(level == config.VerbosityVerbose)
	}
	return nil
}

// List returns the settings form. Which fields appear depends on the MFA
// strategy. Password values are never returned.
func (f *Facade) List(ctx context.Context) ([]Setting, error) {
	username, err := f.store.Get(ctx, KeyUsername)
	if err != nil {
		return nil, err
	}
	strategy, err := f.store.MFAStrategy(ctx)
	if err != nil {
		return nil, err
	}

	out := []Setting{
		{Group: GroupGeneral, Key: KeyUsername, Title: "Arlo Username", Value: username},
		{Group: GroupGeneral, Key: KeyPassword, Title: "Arlo Password", Type: "password"},
		{
			Group:       GroupGeneral,
			Key:         KeyMFAStrategy,
			Title:       "Two Factor Strategy",
			Description: "Mechanism to fetch the two factor code for Arlo login. Save after changing this field for more settings.",
			Value:       strategy,
			Choices:     MFAStrategyChoices,
		},
	}

	if strategy == config.MFAStrategyManual {
		out = append(out,
			Setting{
				Group:       GroupGeneral,
				Key:         KeyMFACode,
				Title:       "Two Factor Code",
				Description: "Enter the code sent by Arlo to your email or phone number.",
			},
			Setting{
				Group:       GroupGeneral,
				Key:         KeyForceReauth,
				Title:       "Force Re-Authentication",
				Description: "Resets the authentication flow. Will also re-do 2FA.",
				Type:        "boolean",
				Value:       false,
			},
		)
	} else {
		imap, err := f.store.IMAPConfig(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out,
			Setting{Group: GroupIMAP, Key: KeyIMAPHost, Title: "IMAP Hostname", Value: imap.Host},
			Setting{Group: GroupIMAP, Key: KeyIMAPPort, Title: "IMAP Port", Type: "number", Value: imap.Port},
			Setting{Group: GroupIMAP, Key: KeyIMAPUsername, Title: "IMAP Username", Value: imap.Username},
			Setting{Group: GroupIMAP, Key: KeyIMAPPassword, Title: "IMAP Password", Type: "password"},
			Setting{
				Group:       GroupIMAP,
				Key:         KeyIMAPInterval,
				Title:       "Refresh Login Interval",
				Description: "Interval, in days, to refresh the login session to Arlo Cloud. Must be a value greater than 0.",
				Type:        "number",
				Value:       imap.IntervalDays,
			},
		)
	}

	transport, err := f.store.Transport(ctx)
	if err != nil {
		return nil, err
	}
	refresh, err := f.store.RefreshInterval(ctx)
	if err != nil {
		return nil, err
	}
	verbosity, err := f.store.Verbosity(ctx)
	if err != nil {
		return nil, err
	}

	out = append(out,
		Setting{
			Group:       GroupGeneral,
			Key:         KeyTransport,
			Title:       "Underlying Transport Protocol",
			Description: "Select the underlying transport protocol used to connect to Arlo Cloud.",
			Value:       transport,
			Choices:     TransportChoices,
		},
		Setting{
			Group:       GroupGeneral,
			Key:         KeyRefreshInterval,
			Title:       "Refresh Event Stream Interval",
			Description: "Interval, in minutes, to refresh the underlying event stream connection to Arlo Cloud. A value of 0 disables this feature.",
			Type:        "number",
			Value:       refresh,
		},
		Setting{
			Group:       GroupGeneral,
			Key:         KeyVerbosity,
			Title:       "Verbose Logging",
			Description: "Show debug messages, including events received from connected Arlo cameras.",
			Type:        "boolean",
			Value:       verbosity == config.VerbosityVerbose,
		},
	)
	return out, nil
}
