// Copyright 2024-2026 Aiku AI

package manager

import (
	"errors"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

var (
	// ErrNotFound is returned when an account or room document that must
	// exist is missing.
	ErrNotFound = store.ErrNotFound
	// ErrAlreadyEnabled is returned by Enable for an account that is already enabled.
	ErrAlreadyEnabled = errors.New("account already enabled")
	// ErrBindingExists is returned when an account already owns a direct room.
	ErrBindingExists = errors.New("direct room already bound")
	// ErrDanglingBinding is returned when a recorded direct room no longer
	// resolves to a stored room.
	ErrDanglingBinding = errors.New("direct room binding points at a missing room")
	// ErrNotADirectRoom is returned when a direct message targets a room
	// without a room record.
	ErrNotADirectRoom = errors.New("not a direct room")
)
