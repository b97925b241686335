// Copyright 2024-2026 Aiku AI

package manager

import (
	"maunium.net/go/mautrix/id"
)

// Reserved top-level keys inside user and room documents.
const (
	EnablementKey = "wechaty"
	BindingKey    = "wechaty_user"
	RoomKey       = "wechaty_room"
)

// RemoteOptions is the per-account Wechaty configuration, a JSON object the
// manager stores without interpreting. Numbers come back as float64.
type RemoteOptions map[string]any

// EnablementRecord is stored on a human user under EnablementKey.
type EnablementRecord struct {
	Enabled       bool           `json:"enabled"`
	RemoteOptions RemoteOptions `json:"remote_options,omitempty"`
}

// BindingRecord is stored on a human or virtual user under BindingKey.
type BindingRecord struct {
	DirectRoomID id.RoomID `json:"direct_room_id,omitempty"`
}

// RoomRecord is stored on a direct room under RoomKey.
type RoomRecord struct {
	// ConsumerID is the human end of the room.
	ConsumerID id.UserID `json:"consumer_id"`
	// DirectUserID is the bot or virtual user whose messages flow through the room.
	DirectUserID id.UserID `json:"direct_user_id"`
}
