// Package gateway routes realtime messages to collaboration rooms and
// broadcast sessions, creating rooms on first join and destroying them when
// their last member or presenter leaves.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/podium/internal/broadcast"
	"github.com/MarcoPoloResearchLab/podium/internal/clock"
	"github.com/MarcoPoloResearchLab/podium/internal/collab"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
)

const (
	fieldDocumentID   = "document_id"
	fieldConnectionID = "connection_id"
	fieldSessionCode  = "session_code"
	fieldMessageType  = "message_type"
)

var (
	errMissingStore      = errors.New("document store is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errMissingWriter     = errors.New("document writer is required")
)

// DocumentStore loads documents.
type DocumentStore interface {
	Load(ctx context.Context, documentID string) (materials.Material, error)
}

// Authorizer decides room membership at join time.
type Authorizer interface {
	CanJoinCollaboration(ctx context.Context, userID string, material materials.Material) (bool, error)
	CanJoinBroadcast(ctx context.Context, userID string, material materials.Material, asPresenter bool) (bool, error)
}

// DocumentWriter performs durable writes for rooms.
type DocumentWriter interface {
	collab.Submitter
	// Await blocks until no write for documentID is in flight.
	Await(ctx context.Context, documentID string) error
	// Wait blocks until every submitted write has finished.
	Wait(ctx context.Context) error
}

// RegistryConfig describes a Registry.
type RegistryConfig struct {
	Store      DocumentStore
	Authorizer Authorizer
	Writer     DocumentWriter
	Clock      clock.Clock
	Debounce   time.Duration
	MaxDelay   time.Duration
	// NewSessionCode generates codes for presenters that do not bring one.
	NewSessionCode func() string
	Logger         *zap.Logger
}

type sessionKey struct {
	documentID string
	code       string
}

type attachment struct {
	room    *collab.Room
	session *broadcast.Session
}

// Registry is the single entry point for realtime connections.
type Registry struct {
	store      DocumentStore
	authorizer Authorizer
	writer     DocumentWriter
	clock      clock.Clock
	debounce   time.Duration
	maxDelay   time.Duration
	newCode    func() string
	logger     *zap.Logger

	locks *keyedMutex

	// gate is held shared by every dispatched message and exclusively by
	// Shutdown to close the registry.
	gate   sync.RWMutex
	closed bool

	mu          sync.Mutex
	rooms       map[string]*collab.Room
	sessions    map[sessionKey]*broadcast.Session
	attachments map[string]*attachment
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if cfg.Writer == nil {
		return nil, errMissingWriter
	}
	roomClock := cfg.Clock
	if roomClock == nil {
		roomClock = clock.Real()
	}
	newCode := cfg.NewSessionCode
	if newCode == nil {
		newCode = generateSessionCode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:       cfg.Store,
		authorizer:  cfg.Authorizer,
		writer:      cfg.Writer,
		clock:       roomClock,
		debounce:    cfg.Debounce,
		maxDelay:    cfg.MaxDelay,
		newCode:     newCode,
		logger:      logger,
		locks:       newKeyedMutex(),
		rooms:       make(map[string]*collab.Room),
		sessions:    make(map[sessionKey]*broadcast.Session),
		attachments: make(map[string]*attachment),
	}, nil
}

// JoinCollaboration attaches peer to the collaboration room of documentID,
// creating the room when none is open. A room previously attached to the
// connection is left once the new one has been joined.
func (r *Registry) JoinCollaboration(ctx context.Context, peer protocol.Peer, documentID string) (collab.JoinedPayload, error) {
	documentID, err := materials.ValidateID(documentID)
	if err != nil {
		return collab.JoinedPayload{}, protocol.ValidationFailed("document id is required")
	}

	if previous := r.attachedRoom(peer.ID()); previous != nil && previous.DocumentID() == documentID {
		return previous.Join(peer)
	}

	if err := r.authorizeCollaboration(ctx, peer, documentID); err != nil {
		return collab.JoinedPayload{}, err
	}

	reply, previous, err := r.enterRoom(ctx, peer, documentID)
	if err != nil {
		return collab.JoinedPayload{}, err
	}
	r.logger.Info("collaboration joined",
		zap.String(fieldDocumentID, documentID),
		zap.String(fieldConnectionID, peer.ID()),
	)
	if previous != nil {
		if err := r.departRoom(previous, peer.ID()); err != nil {
			r.logger.Warn("failed to leave previous room",
				zap.String(fieldDocumentID, previous.DocumentID()),
				zap.String(fieldConnectionID, peer.ID()),
				zap.Error(err),
			)
		}
	}
	return reply, nil
}

// enterRoom joins peer to the room of documentID and attaches it, returning
// the room it was attached to before. Nothing changes when the join fails.
func (r *Registry) enterRoom(ctx context.Context, peer protocol.Peer, documentID string) (collab.JoinedPayload, *collab.Room, error) {
	unlock := r.locks.Lock(documentID)
	defer unlock()

	room, err := r.openRoom(ctx, documentID)
	if err != nil {
		return collab.JoinedPayload{}, nil, err
	}
	reply, err := room.Join(peer)
	if err != nil {
		return collab.JoinedPayload{}, nil, err
	}
	r.mu.Lock()
	current := r.attachmentFor(peer.ID())
	previous := current.room
	current.room = room
	r.mu.Unlock()
	return reply, previous, nil
}

// LeaveCollaboration detaches peer from its collaboration room. It is a
// no-op for a connection without one.
func (r *Registry) LeaveCollaboration(peer protocol.Peer) error {
	return r.leaveCollaboration(peer.ID())
}

// JoinBroadcast attaches peer to the broadcast session (documentID, code).
// A presenter starts the session and receives a generated code when it
// brings none; a viewer must name a live session.
func (r *Registry) JoinBroadcast(ctx context.Context, peer protocol.Peer, documentID, code string, asPresenter bool) error {
	documentID, err := materials.ValidateID(documentID)
	if err != nil {
		return protocol.ValidationFailed("document id is required")
	}
	code = strings.TrimSpace(code)
	if !asPresenter && code == "" {
		return protocol.ValidationFailed("session code is required")
	}

	unlock := r.locks.Lock(documentID)
	material, err := r.currentMaterial(ctx, documentID)
	if err == nil {
		err = r.authorizeBroadcast(ctx, peer, material, asPresenter)
	}
	if err == nil {
		err = r.checkSessionSlot(documentID, code, asPresenter)
	}
	unlock()
	if err != nil {
		return err
	}

	previous := r.attachedSession(peer.ID())
	if previous != nil && !asPresenter && previous.DocumentID() == documentID && previous.Code() == code {
		return previous.AddViewer(ctx, peer)
	}

	if err := r.enterSession(ctx, peer, documentID, code, asPresenter); err != nil {
		return err
	}
	if previous != nil {
		if err := r.departSession(previous, peer.ID()); err != nil {
			r.logger.Warn("failed to leave previous session",
				zap.String(fieldDocumentID, previous.DocumentID()),
				zap.String(fieldSessionCode, previous.Code()),
				zap.String(fieldConnectionID, peer.ID()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// enterSession starts or joins the session and attaches peer to it. Nothing
// changes when the join fails.
func (r *Registry) enterSession(ctx context.Context, peer protocol.Peer, documentID, code string, asPresenter bool) error {
	unlock := r.locks.Lock(documentID)
	defer unlock()

	if asPresenter {
		return r.startSession(ctx, peer, documentID, code)
	}
	session := r.lookupSession(documentID, code)
	if session == nil {
		return protocol.NotFound("no broadcast session %q for document %q", code, documentID)
	}
	if err := session.AddViewer(ctx, peer); err != nil {
		return err
	}
	r.mu.Lock()
	r.attachmentFor(peer.ID()).session = session
	r.mu.Unlock()
	return nil
}

// LeaveBroadcast detaches peer from its broadcast session. A presenter
// leaving ends the session and evicts its viewers.
func (r *Registry) LeaveBroadcast(peer protocol.Peer) error {
	return r.leaveBroadcast(peer.ID())
}

// Disconnect removes every attachment of a closed connection.
func (r *Registry) Disconnect(connectionID string) {
	if err := r.leaveCollaboration(connectionID); err != nil {
		r.logger.Debug("collaboration detach failed", zap.String(fieldConnectionID, connectionID), zap.Error(err))
	}
	if err := r.leaveBroadcast(connectionID); err != nil {
		r.logger.Debug("broadcast detach failed", zap.String(fieldConnectionID, connectionID), zap.Error(err))
	}
	r.mu.Lock()
	delete(r.attachments, connectionID)
	r.mu.Unlock()
}

// LookupCollaborationRoom returns the open room of documentID.
func (r *Registry) LookupCollaborationRoom(documentID string) (*collab.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[documentID]
	return room, ok
}

// PushThumbnails hands rendered previews to the open room of documentID. It
// reports false when no room is open and the previews were dropped.
func (r *Registry) PushThumbnails(documentID string, thumbnails []materials.Thumbnail) (bool, error) {
	room, ok := r.LookupCollaborationRoom(documentID)
	if !ok {
		return false, nil
	}
	if err := room.PushThumbnails(thumbnails); err != nil {
		if errors.Is(err, protocol.ErrNotInRoom) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Counts reports the number of open rooms and live sessions.
func (r *Registry) Counts() (rooms int, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.sessions)
}

// Shutdown stops accepting messages, submits the pending writes of every
// open room and waits for the writer to drain. Messages already being
// dispatched finish first.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.gate.Lock()
	r.closed = true
	r.gate.Unlock()

	r.mu.Lock()
	rooms := make([]*collab.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	var group errgroup.Group
	for _, room := range rooms {
		group.Go(func() error {
			if err := room.Flush(); err != nil && !errors.Is(err, protocol.ErrNotInRoom) {
				return fmt.Errorf("flush %s: %w", room.DocumentID(), err)
			}
			return nil
		})
	}
	flushErr := group.Wait()
	if err := r.writer.Wait(ctx); err != nil {
		return errors.Join(flushErr, err)
	}
	return flushErr
}

func (r *Registry) authorizeCollaboration(ctx context.Context, peer protocol.Peer, documentID string) error {
	unlock := r.locks.Lock(documentID)
	defer unlock()

	material, err := r.currentMaterial(ctx, documentID)
	if err != nil {
		return err
	}
	allowed, err := r.authorizer.CanJoinCollaboration(ctx, peer.Principal().UserID, material)
	if err != nil {
		return fmt.Errorf("authorize collaboration: %w", err)
	}
	if !allowed {
		return protocol.Forbidden("not permitted to edit document %q", documentID)
	}
	return nil
}

func (r *Registry) authorizeBroadcast(ctx context.Context, peer protocol.Peer, material materials.Material, asPresenter bool) error {
	allowed, err := r.authorizer.CanJoinBroadcast(ctx, peer.Principal().UserID, material, asPresenter)
	if err != nil {
		return fmt.Errorf("authorize broadcast: %w", err)
	}
	if !allowed {
		if asPresenter {
			return protocol.Forbidden("not permitted to present document %q", material.ID)
		}
		return protocol.Forbidden("not permitted to view document %q", material.ID)
	}
	return nil
}

func (r *Registry) checkSessionSlot(documentID, code string, asPresenter bool) error {
	session := r.lookupSession(documentID, code)
	if asPresenter && session != nil {
		return protocol.Forbidden("broadcast session %q already has a presenter", code)
	}
	if !asPresenter && session == nil {
		return protocol.NotFound("no broadcast session %q for document %q", code, documentID)
	}
	return nil
}

// currentMaterial returns the live working copy when a room is open and the
// stored document otherwise.
func (r *Registry) currentMaterial(ctx context.Context, documentID string) (materials.Material, error) {
	if room, ok := r.LookupCollaborationRoom(documentID); ok {
		snapshot, err := room.Snapshot()
		if err == nil {
			return snapshot, nil
		}
	}
	return r.load(ctx, documentID)
}

func (r *Registry) load(ctx context.Context, documentID string) (materials.Material, error) {
	if err := r.writer.Await(ctx, documentID); err != nil {
		return materials.Material{}, fmt.Errorf("await pending write: %w", err)
	}
	material, err := r.store.Load(ctx, documentID)
	if errors.Is(err, materials.ErrMaterialNotFound) {
		return materials.Material{}, protocol.NotFound("document %q not found", documentID)
	}
	if err != nil {
		return materials.Material{}, fmt.Errorf("load document: %w", err)
	}
	return material, nil
}

// openRoom returns the room of documentID, creating it from the store when
// none is open. The caller holds the document lock.
func (r *Registry) openRoom(ctx context.Context, documentID string) (*collab.Room, error) {
	if room, ok := r.LookupCollaborationRoom(documentID); ok {
		return room, nil
	}
	material, err := r.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	room, err := collab.NewRoom(collab.RoomConfig{
		Material: material,
		Writer:   r.writer,
		Clock:    r.clock,
		Debounce: r.debounce,
		MaxDelay: r.maxDelay,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	r.mu.Lock()
	r.rooms[documentID] = room
	r.mu.Unlock()
	r.logger.Info("collaboration room opened", zap.String(fieldDocumentID, documentID))
	return room, nil
}

// startSession creates a presenter session. The caller holds the document lock.
func (r *Registry) startSession(ctx context.Context, peer protocol.Peer, documentID, code string) error {
	if code == "" {
		code = r.newCode()
	}
	if err := r.checkSessionSlot(documentID, code, true); err != nil {
		return err
	}
	material, err := r.currentMaterial(ctx, documentID)
	if err != nil {
		return err
	}
	session, err := broadcast.Start(broadcast.SessionConfig{
		Material: material,
		Source: func(ctx context.Context) (materials.Material, error) {
			return r.currentMaterial(ctx, documentID)
		},
		Code:      code,
		Presenter: peer,
		Logger:    r.logger,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	r.mu.Lock()
	r.sessions[sessionKey{documentID: documentID, code: code}] = session
	r.attachmentFor(peer.ID()).session = session
	r.mu.Unlock()
	return nil
}

func (r *Registry) leaveCollaboration(connectionID string) error {
	r.mu.Lock()
	var room *collab.Room
	if current, ok := r.attachments[connectionID]; ok {
		room = current.room
		current.room = nil
	}
	r.mu.Unlock()
	if room == nil {
		return nil
	}
	return r.departRoom(room, connectionID)
}

// departRoom removes connectionID from room and closes the room when it
// empties.
func (r *Registry) departRoom(room *collab.Room, connectionID string) error {
	documentID := room.DocumentID()
	unlock := r.locks.Lock(documentID)
	defer unlock()

	remaining, err := room.Leave(connectionID)
	if err != nil && !errors.Is(err, protocol.ErrNotInRoom) {
		return err
	}
	if remaining == 0 {
		r.mu.Lock()
		if r.rooms[documentID] == room {
			delete(r.rooms, documentID)
		}
		r.mu.Unlock()
		r.logger.Info("collaboration room closed", zap.String(fieldDocumentID, documentID))
	}
	return nil
}

func (r *Registry) leaveBroadcast(connectionID string) error {
	r.mu.Lock()
	var session *broadcast.Session
	if current, ok := r.attachments[connectionID]; ok {
		session = current.session
		current.session = nil
	}
	r.mu.Unlock()
	if session == nil {
		return nil
	}
	return r.departSession(session, connectionID)
}

// departSession removes connectionID from session. A presenter departure
// unregisters the session and detaches its viewers.
func (r *Registry) departSession(session *broadcast.Session, connectionID string) error {
	unlock := r.locks.Lock(session.DocumentID())
	defer unlock()

	departure, err := session.Leave(connectionID)
	if err != nil {
		if errors.Is(err, protocol.ErrNotInRoom) {
			return nil
		}
		return err
	}
	if !departure.Teardown {
		return nil
	}

	key := sessionKey{documentID: session.DocumentID(), code: session.Code()}
	r.mu.Lock()
	if r.sessions[key] == session {
		delete(r.sessions, key)
	}
	for _, viewerID := range departure.Evicted {
		if current, ok := r.attachments[viewerID]; ok && current.session == session {
			current.session = nil
		}
	}
	r.mu.Unlock()
	r.logger.Info("broadcast session closed",
		zap.String(fieldDocumentID, key.documentID),
		zap.String(fieldSessionCode, key.code),
		zap.Int("evicted_viewers", len(departure.Evicted)),
	)
	return nil
}

func (r *Registry) attachedRoom(connectionID string) *collab.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.attachments[connectionID]; ok {
		return current.room
	}
	return nil
}

func (r *Registry) attachedSession(connectionID string) *broadcast.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.attachments[connectionID]; ok {
		return current.session
	}
	return nil
}

func (r *Registry) lookupSession(documentID, code string) *broadcast.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionKey{documentID: documentID, code: code}]
}

// attachmentFor returns the attachment of connectionID. The caller holds r.mu.
func (r *Registry) attachmentFor(connectionID string) *attachment {
	current, ok := r.attachments[connectionID]
	if !ok {
		current = &attachment{}
		r.attachments[connectionID] = current
	}
	return current
}

func generateSessionCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
