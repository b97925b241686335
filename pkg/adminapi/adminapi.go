// Copyright 2024-2026 Aiku AI

// Package adminapi serves a small HTTP API for operating the appservice
// manager: enabling users, provisioning rooms and sending direct messages.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/manager"
)

// maxBodySize is the maximum allowed request body (1 MB).
const maxBodySize = 1 << 20

// Manager is the subset of *manager.Manager the API needs.
type Manager interface {
	Classify(userID id.UserID) manager.Account
	IsEnabled(ctx context.Context, user id.UserID) (bool, error)
	Enable(ctx context.Context, user id.UserID) error
	Disable(ctx context.Context, user id.UserID) error
	RemoteOptions(ctx context.Context, user id.UserID) (manager.RemoteOptions, error)
	SetRemoteOptions(ctx context.Context, user id.UserID, opts manager.RemoteOptions) error
	EnabledUsers(ctx context.Context) ([]id.UserID, error)
	DirectRoom(ctx context.Context, user id.UserID) (id.RoomID, error)
	CreateDirectRoom(ctx context.Context, consumer, peer id.UserID, name string) (id.RoomID, error)
	CreateGroupRoom(ctx context.Context, members []id.UserID, name string) (id.RoomID, error)
	Room(ctx context.Context, room id.RoomID) (*manager.RoomRecord, error)
	DirectMessage(ctx context.Context, room id.RoomID, text string) error
	GenerateVirtualUserID() id.UserID
}

var _ Manager = (*manager.Manager)(nil)

// Server exposes a Manager over HTTP.
type Server struct {
	mgr Manager
	log zerolog.Logger
}

// New creates a Server.
func New(mgr Manager, log zerolog.Logger) *Server {
	return &Server{
		mgr: mgr,
		log: log.With().Str("component", "admin_api").Logger(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("GET /api/users/{userID}", s.handleGetUser)
	mux.HandleFunc("POST /api/users/{userID}/enable", s.handleEnable)
	mux.HandleFunc("POST /api/users/{userID}/disable", s.handleDisable)
	mux.HandleFunc("GET /api/users/{userID}/options", s.handleGetOptions)
	mux.HandleFunc("PUT /api/users/{userID}/options", s.handleSetOptions)
	mux.HandleFunc("POST /api/rooms/direct", s.handleCreateDirectRoom)
	mux.HandleFunc("POST /api/rooms/group", s.handleCreateGroupRoom)
	mux.HandleFunc("GET /api/rooms/{roomID}", s.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{roomID}/messages", s.handleDirectMessage)
	mux.HandleFunc("POST /api/virtual-users", s.handleGenerateVirtualUser)
	return mux
}

// HTTPServer wraps Handler in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// UserResponse describes a single user.
type UserResponse struct {
	UserID     id.UserID  `json:"user_id"`
	Kind       string     `json:"kind"`
	Enabled    bool       `json:"enabled"`
	DirectRoom *id.RoomID `json:"direct_room,omitempty"`
}

// DirectRoomRequest is the body of POST /api/rooms/direct.
type DirectRoomRequest struct {
	Consumer id.UserID `json:"consumer"`
	Peer     id.UserID `json:"peer,omitempty"`
	Name     string    `json:"name,omitempty"`
}

// GroupRoomRequest is the body of POST /api/rooms/group.
type GroupRoomRequest struct {
	Members []id.UserID `json:"members"`
	Name    string      `json:"name"`
}

// MessageRequest is the body of POST /api/rooms/{roomID}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// RoomResponse describes a room. Record is nil for group rooms.
type RoomResponse struct {
	RoomID id.RoomID           `json:"room_id"`
	Direct bool                `json:"direct"`
	Record *manager.RoomRecord `json:"record,omitempty"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("enabled") != "true" {
		http.Error(w, "only enabled=true listing is supported", http.StatusBadRequest)
		return
	}
	users, err := s.mgr.EnabledUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []id.UserID{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))
	acc := s.mgr.Classify(userID)
	resp := UserResponse{UserID: userID, Kind: acc.Kind.String()}

	var err error
	if acc.IsHuman() {
		if resp.Enabled, err = s.mgr.IsEnabled(r.Context(), userID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	room, err := s.mgr.DirectRoom(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if room != "" {
		resp.DirectRoom = ptr.Ptr(room)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))
	if !s.mgr.Classify(userID).IsHuman() {
		http.Error(w, "only human users can be enabled", http.StatusBadRequest)
		return
	}
	if err := s.mgr.Enable(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))
	if err := s.mgr.Disable(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.mgr.RemoteOptions(r.Context(), id.UserID(r.PathValue("userID")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts == nil {
		opts = manager.RemoteOptions{}
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	var opts manager.RemoteOptions
	if !s.readJSON(w, r, &opts) {
		return
	}
	if err := s.mgr.SetRemoteOptions(r.Context(), id.UserID(r.PathValue("userID")), opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleCreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	var req DirectRoomRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Consumer == "" {
		http.Error(w, "consumer is required", http.StatusBadRequest)
		return
	}
	roomID, err := s.mgr.CreateDirectRoom(r.Context(), req.Consumer, req.Peer, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]id.RoomID{"room_id": roomID})
}

func (s *Server) handleCreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	var req GroupRoomRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.Members) == 0 {
		http.Error(w, "members are required", http.StatusBadRequest)
		return
	}
	roomID, err := s.mgr.CreateGroupRoom(r.Context(), req.Members, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]id.RoomID{"room_id": roomID})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := id.RoomID(r.PathValue("roomID"))
	rec, err := s.mgr.Room(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RoomResponse{RoomID: roomID, Direct: rec != nil, Record: rec})
}

func (s *Server) handleDirectMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if err := s.mgr.DirectMessage(r.Context(), id.RoomID(r.PathValue("roomID")), req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateVirtualUser(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusCreated, map[string]id.UserID{"user_id": s.mgr.GenerateVirtualUserID()})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	} else if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

// statusFor maps manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyEnabled), errors.Is(err, manager.ErrBindingExists):
		return http.StatusConflict
	case errors.Is(err, manager.ErrNotADirectRoom):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	evt := s.log.Warn()
	if status >= http.StatusInternalServerError {
		evt = s.log.Error()
	}
	evt.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Admin API request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
