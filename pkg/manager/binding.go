// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

// DirectRoom returns the direct room bound to user, or "" if there is none.
// A binding whose room has no room record yields ErrDanglingBinding.
func (m *Manager) DirectRoom(ctx context.Context, user id.UserID) (id.RoomID, error) {
	var rec BindingRecord
	if _, err := m.lookup(ctx, m.users, string(user), BindingKey, &rec); err != nil {
		return "", err
	}
	if rec.DirectRoomID == "" {
		return "", nil
	}
	var room RoomRecord
	found, err := m.lookup(ctx, m.rooms, string(rec.DirectRoomID), RoomKey, &room)
	if err != nil {
		return "", err
	} else if !found {
		return "", fmt.Errorf("%w: %s -> %s", ErrDanglingBinding, user, rec.DirectRoomID)
	}
	return rec.DirectRoomID, nil
}

// setDirectRoom binds room as the direct room of user. An existing binding
// is never replaced.
func (m *Manager) setDirectRoom(ctx context.Context, user id.UserID, room id.RoomID) error {
	return m.update(ctx, m.users, string(user), func(doc *store.Document) error {
		var rec BindingRecord
		if _, err := doc.Decode(BindingKey, &rec); err != nil {
			return err
		}
		if rec.DirectRoomID != "" {
			m.log.Error().
				Stringer("user_id", user).
				Stringer("existing_room_id", rec.DirectRoomID).
				Stringer("new_room_id", room).
				Msg("Refusing to replace existing direct room binding")
			return fmt.Errorf("%w: %s already has %s", ErrBindingExists, user, rec.DirectRoomID)
		}
		return doc.Encode(BindingKey, BindingRecord{DirectRoomID: room})
	})
}
