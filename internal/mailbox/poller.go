package mailbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is the pause between mailbox searches while waiting
// for a code.
const DefaultPollInterval = time.Second

// Logger defines the logging interface used by the Poller.
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

// Relogin is one forced login started by the poller.
type Relogin interface {
	// Complete finishes the login with the code found in the mailbox.
	Complete(ctx context.Context, code string) error

	// Rollback abandons the login and restores the previous session.
	Rollback(ctx context.Context)
}

// Session is the part of the session manager the poller drives.
type Session interface {
	// BeginRelogin drops the current session and starts an MFA login.
	// On error the previous session has already been restored.
	BeginRelogin(ctx context.Context) (Relogin, error)
}

// Recorder receives a count of codes found. May be nil.
type Recorder interface {
	RecordMFACode(source string)
}

// Options configures a Poller.
type Options struct {
	Dialer   Dialer
	Session  Session
	Logger   Logger
	Recorder Recorder

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Poller forces a fresh Arlo login every few days and answers the MFA
// challenge with the code mailed to the account.
//
// At most one loop is current. Start supersedes any running loop; a
// superseded loop notices through its generation ID, rolls back the login it
// was waiting on and exits without touching the mailbox state.
//
// Thread Safety:
//   - Start, Stop and Close are safe for concurrent use.
type Poller struct {
	dialer       Dialer
	session      Session
	logger       Logger
	recorder     Recorder
	pollInterval time.Duration

	mu         sync.Mutex
	mbox       Mailbox
	seen       []uint32
	generation string
	stop       chan struct{}
	cancel     context.CancelFunc

	wg sync.WaitGroup
}

// New creates a stopped Poller.
func New(opts Options) *Poller {
	p := &Poller{
		dialer:       opts.Dialer,
		session:      opts.Session,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
		pollInterval: opts.PollInterval,
	}
	if p.dialer == nil {
		p.dialer = IMAPDialer{}
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	return p
}

// Start connects to the mailbox, records the sender's existing messages as
// seen and launches a new relogin loop. Any previous loop is stopped first.
//
// Returns ErrIncompleteConfig without side effects when a required field is
// empty. On a connection failure the poller is left stopped.
func (p *Poller) Start(ctx context.Context, cfg Config) error {
	if !cfg.Complete() {
		return ErrIncompleteConfig
	}
	cfg = cfg.withDefaults()

	p.Stop()

	p.logger.Info("connecting to IMAP", "addr", cfg.Addr(), "mailbox", cfg.Mailbox)
	mbox, err := p.dialer.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	seen, err := mbox.Search(ctx, cfg.Sender)
	if err != nil {
		mbox.Close()
		return fmt.Errorf("listing existing messages: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := make(chan struct{})
	gen := uuid.NewString()

	p.mu.Lock()
	p.mbox = mbox
	p.seen = seen
	p.generation = gen
	p.stop = stop
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("connected to IMAP", "skipping", len(seen))

	p.wg.Add(1)
	go p.run(loopCtx, gen, stop, cfg)
	return nil
}

// Stop signals the current loop to exit and closes the mailbox. It does not
// wait for the loop; use Close for that.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, cancel, mbox := p.stop, p.cancel, p.mbox
	p.stop = nil
	p.cancel = nil
	p.mbox = nil
	p.seen = nil
	p.generation = ""
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if cancel != nil {
		cancel()
	}
	if mbox != nil {
		if err := mbox.Close(); err != nil {
			p.logger.Debug("closing IMAP connection", "error", err)
		}
	}
}

// Close stops the poller and waits for every loop to exit.
func (p *Poller) Close() {
	p.Stop()
	p.wg.Wait()
}

// Running reports whether a loop is current.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation != ""
}

func (p *Poller) current(gen string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == gen
}

// state returns the mailbox and a copy of the seen set if gen is current.
func (p *Poller) state(gen string) (Mailbox, []uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen || p.mbox == nil {
		return nil, nil, false
	}
	return p.mbox, slices.Clone(p.seen), true
}

func (p *Poller) setSeen(gen string, seen []uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation == gen {
		p.seen = seen
	}
}

func (p *Poller) run(ctx context.Context, gen string, stop <-chan struct{}, cfg Config) {
	defer p.wg.Done()
	p.logger.Info("starting IMAP refresh loop", "generation", gen)

	for {
		p.cycle(ctx, gen, stop, cfg)

		if !p.current(gen) {
			p.logger.Info("exiting IMAP refresh loop", "generation", gen)
			return
		}

		timer := time.NewTimer(cfg.Interval())
		select {
		case <-stop:
			timer.Stop()
			p.logger.Info("exiting IMAP refresh loop", "generation", gen)
			return
		case <-timer.C:
		}
	}
}

// cycle performs one forced login.
func (p *Poller) cycle(ctx context.Context, gen string, stop <-chan struct{}, cfg Config) {
	p.logger.Info("performing IMAP login flow")

	relogin, err := p.session.BeginRelogin(ctx)
	if err != nil {
		p.logger.Error("could not start MFA login, will retry on next IMAP interval", "error", err)
		return
	}

	code, err := p.awaitCode(ctx, gen, stop, cfg)
	if errors.Is(err, errSuperseded) {
		// ctx is cancelled by Stop. The rollback is a no-op once a newer
		// relogin has started.
		p.logger.Info("IMAP loop stopped while waiting for a code, rolling back")
		relogin.Rollback(context.WithoutCancel(ctx))
		return
	}
	if err != nil {
		p.logger.Error("IMAP lookup failed, will retry on next IMAP interval", "error", err)
		relogin.Rollback(ctx)
		return
	}

	p.logger.Info("found MFA code")
	if p.recorder != nil {
		p.recorder.RecordMFACode("imap")
	}
	if err := relogin.Complete(ctx, code); err != nil {
		p.logger.Error("MFA login with mailed code failed", "error", err)
	}
}

// awaitCode polls the mailbox until a new message from the sender carries a
// code. Every search result replaces the seen set, code or not.
func (p *Poller) awaitCode(ctx context.Context, gen string, stop <-chan struct{}, cfg Config) (string, error) {
	for {
		mbox, seen, ok := p.state(gen)
		if !ok {
			return "", errSuperseded
		}

		p.logger.Debug("checking IMAP for MFA codes")
		if err := mbox.Noop(ctx); err != nil {
			return "", p.loopErr(gen, err)
		}
		uids, err := mbox.Search(ctx, cfg.Sender)
		if err != nil {
			return "", p.loopErr(gen, err)
		}

		if slices.Equal(uids, seen) {
			p.logger.Debug("no new emails found, will sleep and retry")
		} else {
			code, err := p.scan(ctx, mbox, uids, seen)
			if err != nil {
				return "", p.loopErr(gen, err)
			}
			p.setSeen(gen, uids)
			if code != "" {
				return code, nil
			}
			p.logger.Debug("no MFA code found, will sleep and retry")
		}

		select {
		case <-stop:
			return "", errSuperseded
		case <-time.After(p.pollInterval):
		}
	}
}

// scan fetches each unseen message and returns the first code found.
func (p *Poller) scan(ctx context.Context, mbox Mailbox, uids, seen []uint32) (string, error) {
	for _, uid := range uids {
		if slices.Contains(seen, uid) {
			continue
		}
		body, err := mbox.Fetch(ctx, uid)
		if err != nil {
			return "", err
		}
		if code, ok := ExtractCode(body); ok {
			return code, nil
		}
	}
	return "", nil
}

// loopErr maps an error seen by a loop that has since been stopped (its
// mailbox closed under it) to errSuperseded.
func (p *Poller) loopErr(gen string, err error) error {
	if !p.current(gen) {
		return errSuperseded
	}
	return err
}
