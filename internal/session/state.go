package session

import "github.com/nerrad567/gray-logic-arlo/internal/cloud"

// State names the session phase.
type State string

// Session states.
const (
	StateUnauthenticated State = "unauthenticated"
	StateAwaitingMFA     State = "awaiting_mfa"
	StateAuthenticated   State = "authenticated"
)

// phase is the closed set of session phases. Exactly one holds at a time.
type phase interface {
	state() State
	client() cloud.Client
}

type unauthenticated struct{}

func (unauthenticated) state() State         { return StateUnauthenticated }
func (unauthenticated) client() cloud.Client { return nil }

// awaitingMFA holds a password login waiting for its code.
type awaitingMFA struct {
	c      cloud.Client
	resume cloud.Resume
}

func (awaitingMFA) state() State           { return StateAwaitingMFA }
func (p awaitingMFA) client() cloud.Client { return p.c }

type authenticated struct {
	c cloud.Client
}

func (authenticated) state() State           { return StateAuthenticated }
func (p authenticated) client() cloud.Client { return p.c }

// Status is a point-in-time view of the session for the API.
type Status struct {
	State       State  `json:"state"`
	UserID      string `json:"user_id,omitempty"`
	CodePending bool   `json:"code_pending"`
}
