package mailbox

import (
	"net"
	"strconv"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultSender  = "do_not_reply@arlo.com"
	DefaultMailbox = "INBOX"
)

// Config describes the mailbox MFA codes are delivered to.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// IntervalDays is the time between forced relogins.
	IntervalDays int

	// Sender is the From address of MFA code emails.
	Sender string

	// Mailbox is the folder to watch, opened read-only.
	Mailbox string
}

// Complete reports whether every required field is set.
func (c Config) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.Username != "" && c.Password != "" && c.IntervalDays > 0
}

// Interval is the relogin period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalDays) * 24 * time.Hour
}

// Addr is host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Sender == "" {
		c.Sender = DefaultSender
	}
	if c.Mailbox == "" {
		c.Mailbox = DefaultMailbox
	}
	return c
}
