package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-arlo/internal/mailbox"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
)

var _ mailbox.Session = (*Manager)(nil)

// relogin is a forced MFA login started by the mailbox poller. The previous
// client keeps its event stream until the new login completes.
type relogin struct {
	m     *Manager
	epoch uint64
	prev  phase
	snap  settings.AuthSnapshot
}

// BeginRelogin drops the persisted session and starts a password login that
// waits for an MFA code. If the login cannot be started the previous session
// is restored and an error wrapping ErrAuthFailure is returned.
func (m *Manager) BeginRelogin(ctx context.Context) (mailbox.Relogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.SnapshotAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting auth headers: %w", err)
	}
	prev := m.phase

	m.code = nil
	m.setPhaseLocked(unauthenticated{})
	if err := m.store.ClearAuth(ctx); err != nil {
		m.restoreLocked(ctx, prev, snap)
		return nil, fmt.Errorf("clearing auth headers: %w", err)
	}

	m.clientLocked(ctx)
	if _, ok := m.phase.(awaitingMFA); !ok {
		m.restoreLocked(ctx, prev, snap)
		return nil, fmt.Errorf("%w: MFA login did not start", ErrAuthFailure)
	}
	return &relogin{m: m, epoch: m.epoch, prev: prev, snap: snap}, nil
}

// restoreLocked reinstates a phase and its persisted auth headers.
func (m *Manager) restoreLocked(ctx context.Context, prev phase, snap settings.AuthSnapshot) {
	if err := m.store.RestoreAuth(ctx, snap); err != nil {
		m.logger.Error("restoring auth headers", "error", err)
	}
	m.code = nil
	m.setPhaseLocked(prev)
}

// Complete finishes the login with code and retires the previous client.
func (r *relogin) Complete(ctx context.Context, code string) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != r.epoch {
		return ErrReloginSuperseded
	}
	if c := r.prev.client(); c != nil {
		c.Unsubscribe()
	}
	m.code = &code
	if m.clientLocked(ctx) == nil {
		return fmt.Errorf("%w: MFA code rejected", ErrAuthFailure)
	}
	return nil
}

// Rollback abandons the pending login and reinstates the previous client
// and auth headers. A no-op if the session changed since the relogin began.
func (r *relogin) Rollback(ctx context.Context) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != r.epoch {
		return
	}
	if c := m.phase.client(); c != nil {
		c.Unsubscribe()
	}
	m.logger.Info("rolling back to the previous session")
	m.restoreLocked(ctx, r.prev, r.snap)
}
