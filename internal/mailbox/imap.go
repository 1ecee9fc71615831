package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const dialTimeout = 30 * time.Second

// Mailbox is an open, selected, read-only mail folder.
type Mailbox interface {
	// Search returns the sorted UIDs of messages from sender.
	Search(ctx context.Context, sender string) ([]uint32, error)

	// Fetch returns the full raw message without marking it seen.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)

	// Noop lets the server report new messages.
	Noop(ctx context.Context) error

	Close() error
}

// Dialer opens a Mailbox: connect, log in, select read-only.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Mailbox, error)
}

// IMAPDialer dials real IMAP servers over implicit TLS.
type IMAPDialer struct {
	// TLSConfig overrides the default TLS settings (tests, private CAs).
	TLSConfig *tls.Config
}

// Dial connects to cfg.Addr() and selects cfg.Mailbox read-only.
func (d IMAPDialer) Dial(ctx context.Context, cfg Config) (Mailbox, error) {
	cfg = cfg.withDefaults()

	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrTransport, cfg.Addr(), err)
	}

	c := imapclient.New(conn, nil)
	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: login: %w", ErrTransport, err)
	}
	if _, err := c.Select(cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: selecting %s: %w", ErrTransport, cfg.Mailbox, err)
	}
	return &imapMailbox{c: c}, nil
}

type imapMailbox struct {
	c *imapclient.Client
}

func (m *imapMailbox) Search(ctx context.Context, sender string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
	data, err := m.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrTransport, err)
	}
	all := data.AllUIDs()
	uids := make([]uint32, 0, len(all))
	for _, uid := range all {
		uids = append(uids, uint32(uid))
	}
	slices.Sort(uids)
	return uids, nil
}

func (m *imapMailbox) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := m.c.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %d: %w", ErrTransport, uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: fetch %d: message not found", ErrTransport, uid)
	}
	return msgs[0].FindBodySection(section), nil
}

func (m *imapMailbox) Noop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.c.Noop().Wait(); err != nil {
		return fmt.Errorf("%w: noop: %w", ErrTransport, err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	// Logout fails on a dead connection; the close still releases it.
	_ = m.c.Logout().Wait()
	return m.c.Close()
}
