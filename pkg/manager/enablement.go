// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

func (m *Manager) enablement(ctx context.Context, user id.UserID) (EnablementRecord, error) {
	var rec EnablementRecord
	if _, err := m.lookup(ctx, m.users, string(user), EnablementKey, &rec); err != nil {
		return EnablementRecord{}, err
	}
	return rec, nil
}

// IsEnabled reports whether bridging is enabled for user. Users without an
// enablement record are disabled.
func (m *Manager) IsEnabled(ctx context.Context, user id.UserID) (bool, error) {
	rec, err := m.enablement(ctx, user)
	if err != nil {
		return false, err
	}
	m.log.Debug().Stringer("user_id", user).Bool("enabled", rec.Enabled).Msg("Checked enablement")
	return rec.Enabled, nil
}

// Enable turns bridging on for user. Enabling starts from a fresh record:
// previously stored remote options are discarded.
func (m *Manager) Enable(ctx context.Context, user id.UserID) error {
	m.log.Info().Stringer("user_id", user).Msg("Enabling user")
	return m.update(ctx, m.users, string(user), func(doc *store.Document) error {
		var rec EnablementRecord
		if _, err := doc.Decode(EnablementKey, &rec); err != nil {
			return err
		}
		if rec.Enabled {
			return fmt.Errorf("%w: %s", ErrAlreadyEnabled, user)
		}
		return doc.Encode(EnablementKey, EnablementRecord{Enabled: true})
	})
}

// Disable turns bridging off for user and keeps the remote options.
// Disabling a disabled user is a no-op.
func (m *Manager) Disable(ctx context.Context, user id.UserID) error {
	m.log.Info().Stringer("user_id", user).Msg("Disabling user")
	return m.update(ctx, m.users, string(user), func(doc *store.Document) error {
		var rec EnablementRecord
		if _, err := doc.Decode(EnablementKey, &rec); err != nil {
			return err
		}
		rec.Enabled = false
		return doc.Encode(EnablementKey, rec)
	})
}

// RemoteOptions returns the stored Wechaty options of user, or nil if none
// were set.
func (m *Manager) RemoteOptions(ctx context.Context, user id.UserID) (RemoteOptions, error) {
	rec, err := m.enablement(ctx, user)
	if err != nil {
		return nil, err
	}
	return rec.RemoteOptions, nil
}

// SetRemoteOptions replaces the stored Wechaty options of user and leaves
// the enabled flag as it is.
func (m *Manager) SetRemoteOptions(ctx context.Context, user id.UserID, opts RemoteOptions) error {
	m.log.Debug().Stringer("user_id", user).Int("keys", len(opts)).Msg("Setting remote options")
	return m.update(ctx, m.users, string(user), func(doc *store.Document) error {
		var rec EnablementRecord
		if _, err := doc.Decode(EnablementKey, &rec); err != nil {
			return err
		}
		rec.RemoteOptions = opts
		return doc.Encode(EnablementKey, rec)
	})
}

// EnabledUsers lists every user with bridging enabled.
func (m *Manager) EnabledUsers(ctx context.Context) ([]id.UserID, error) {
	ids, err := m.users.Query(ctx, StoreQuery(EnablementKey, map[string]any{"enabled": true}))
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled users: %w", err)
	}
	users := make([]id.UserID, len(ids))
	for i, userID := range ids {
		users[i] = id.UserID(userID)
	}
	m.log.Debug().Int("count", len(users)).Msg("Listed enabled users")
	return users, nil
}
