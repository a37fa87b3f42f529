package collab

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/actor"
	"github.com/MarcoPoloResearchLab/podium/internal/clock"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/persistence"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
)

const (
	defaultDebounce = 3 * time.Second

	fieldDocumentID   = "document_id"
	fieldConnectionID = "connection_id"
)

var (
	errMissingWriter = errors.New("document writer is required")
	errMissingClock  = errors.New("clock is required")
)

// Submitter accepts snapshots for durable writing without blocking.
type Submitter interface {
	Submit(snapshot materials.Material)
}

// RoomConfig describes a collaboration room.
type RoomConfig struct {
	Material materials.Material
	Writer   Submitter
	Clock    clock.Clock
	Debounce time.Duration
	MaxDelay time.Duration
	Logger   *zap.Logger
}

type member struct {
	peer     protocol.Peer
	attendee Attendee
}

// Room owns the working copy of one document. Every method runs on the
// room's task loop; once the last attendee leaves the loop stops and later
// calls fail with a not_in_room error.
type Room struct {
	documentID string
	loop       *actor.Loop
	debouncer  *persistence.Debouncer
	writer     Submitter
	logger     *zap.Logger

	material    materials.Material
	members     map[string]*member
	order       []string
	dirty       bool
	colorCursor int
}

// NewRoom constructs a room around material and starts its task loop.
func NewRoom(cfg RoomConfig) (*Room, error) {
	if cfg.Writer == nil {
		return nil, errMissingWriter
	}
	if cfg.Clock == nil {
		return nil, errMissingClock
	}
	delay := cfg.Debounce
	if delay <= 0 {
		delay = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	room := &Room{
		documentID: cfg.Material.ID,
		loop:       actor.New(),
		writer:     cfg.Writer,
		logger:     logger.With(zap.String(fieldDocumentID, cfg.Material.ID)),
		material:   cfg.Material.Clone(),
		members:    make(map[string]*member),
	}
	debouncer, err := persistence.NewDebouncer(persistence.DebouncerConfig{
		Clock:    cfg.Clock,
		Delay:    delay,
		MaxDelay: cfg.MaxDelay,
		Fire:     room.persistScheduled,
	})
	if err != nil {
		return nil, err
	}
	room.debouncer = debouncer
	room.loop.Start()
	return room, nil
}

// DocumentID returns the id of the document the room edits.
func (r *Room) DocumentID() string {
	return r.documentID
}

// Done is closed once the room has been destroyed.
func (r *Room) Done() <-chan struct{} {
	return r.loop.Done()
}

// Join adds peer to the room. The newcomer receives the full snapshot
// followed by one presence record per existing attendee; existing
// attendees receive one presence record for the newcomer. Joining again
// on the same connection only repeats the snapshot.
func (r *Room) Join(peer protocol.Peer) (JoinedPayload, error) {
	var reply JoinedPayload
	err := r.do(func() error {
		if existing, ok := r.members[peer.ID()]; ok {
			reply = r.joinedPayload(existing.peer.ID())
			existing.peer.Send(protocol.Event{Type: protocol.EventCollaborationJoined, Payload: reply})
			return nil
		}

		color := palette[r.colorCursor%len(palette)]
		r.colorCursor++
		newcomer := &member{peer: peer, attendee: newAttendee(peer, color, r.material.FirstSlideID())}

		joined := protocol.Event{Type: protocol.EventPresenceJoined, Payload: newcomer.attendee.clone()}
		for _, connectionID := range r.order {
			r.members[connectionID].peer.Send(joined)
		}

		r.members[peer.ID()] = newcomer
		r.order = append(r.order, peer.ID())
		reply = r.joinedPayload(peer.ID())
		peer.Send(protocol.Event{Type: protocol.EventCollaborationJoined, Payload: reply})
		for _, connectionID := range r.order {
			if connectionID == peer.ID() {
				continue
			}
			peer.Send(protocol.Event{
				Type:    protocol.EventPresenceJoined,
				Payload: r.members[connectionID].attendee.clone(),
			})
		}
		r.logger.Debug("attendee joined",
			zap.String(fieldConnectionID, peer.ID()),
			zap.Int("attendee_count", len(r.order)),
		)
		return nil
	})
	return reply, err
}

// Leave removes the connection and broadcasts its departure. It returns the
// number of attendees left; at zero the room is destroyed and any pending
// write is submitted immediately.
func (r *Room) Leave(connectionID string) (int, error) {
	remaining := 0
	err := r.do(func() error {
		departed, ok := r.members[connectionID]
		if !ok {
			remaining = len(r.order)
			return protocol.NotInRoom("connection is not in collaboration room %s", r.documentID)
		}
		delete(r.members, connectionID)
		r.order = removeID(r.order, connectionID)
		remaining = len(r.order)

		departed.peer.Send(protocol.Event{
			Type:    protocol.EventCollaborationLeft,
			Payload: presenceLeftPayload{ConnectionID: connectionID},
		})
		r.broadcast(protocol.Event{
			Type:    protocol.EventPresenceLeft,
			Payload: presenceLeftPayload{ConnectionID: connectionID},
		})

		if remaining == 0 {
			r.debouncer.Stop()
			r.submitIfDirty()
			r.loop.Halt()
			r.logger.Debug("collaboration room destroyed")
		}
		return nil
	})
	return remaining, err
}

// ChangeSlideFocus moves the attendee to slideID and clears its selection.
// The slide is not required to exist.
func (r *Room) ChangeSlideFocus(connectionID, slideID string) error {
	return r.withMember(connectionID, func(actor *member) error {
		actor.attendee.focus(slideID)
		r.broadcast(protocol.Event{
			Type:    protocol.EventSlideFocusChanged,
			Payload: focusPayload{ConnectionID: connectionID, SlideID: slideID},
		})
		return nil
	})
}

// ChangeSelection replaces the attendee selection verbatim.
func (r *Room) ChangeSelection(connectionID string, blockIDs []string) error {
	return r.withMember(connectionID, func(actor *member) error {
		selection := append([]string{}, blockIDs...)
		actor.attendee.Selection = selection
		r.broadcast(protocol.Event{
			Type: protocol.EventSelectionChanged,
			Payload: selectionPayload{
				ConnectionID: connectionID,
				SlideID:      actor.attendee.SlideID,
				BlockIDs:     append([]string{}, selection...),
			},
		})
		return nil
	})
}

// UpsertBlock replaces the block with the same id in the focused slide or
// appends it.
func (r *Room) UpsertBlock(connectionID string, block materials.Block) error {
	return r.withMember(connectionID, func(actor *member) error {
		slide, err := r.focusedSlide(actor)
		if err != nil {
			return err
		}
		slide.UpsertBlock(block)
		r.broadcast(protocol.Event{
			Type: protocol.EventBlockUpserted,
			Payload: blockUpsertedPayload{
				ConnectionID: connectionID,
				SlideID:      slide.ID,
				Block:        block.Raw(),
			},
		})
		r.touch()
		return nil
	})
}

// RemoveBlock deletes the block from the focused slide. An unknown block id
// is not an error.
func (r *Room) RemoveBlock(connectionID, blockID string) error {
	return r.withMember(connectionID, func(actor *member) error {
		slide, err := r.focusedSlide(actor)
		if err != nil {
			return err
		}
		slide.RemoveBlock(blockID)
		r.broadcast(protocol.Event{
			Type: protocol.EventBlockRemoved,
			Payload: blockRemovedPayload{
				ConnectionID: connectionID,
				SlideID:      slide.ID,
				BlockID:      blockID,
			},
		})
		r.touch()
		return nil
	})
}

// SyncSlideProperties updates a slide, creating it when the id is unknown.
func (r *Room) SyncSlideProperties(connectionID string, props materials.SlideProperties) error {
	return r.withMember(connectionID, func(_ *member) error {
		if _, err := materials.ValidateID(props.SlideID); err != nil {
			return protocol.ValidationFailed("slide id is required")
		}
		created := r.material.ApplySlideProperties(props)
		r.broadcast(protocol.Event{
			Type: protocol.EventSlidePropertiesSynchronized,
			Payload: slidePropertiesPayload{
				ConnectionID: connectionID,
				SlideID:      props.SlideID,
				Size:         props.Size,
				Color:        props.Color,
				Position:     props.Position,
			},
		})
		if created && len(r.material.Slides) == 1 {
			r.refocusStranded("")
		}
		r.touch()
		return nil
	})
}

// RemoveSlide deletes a slide and writes the document immediately.
// Attendees focused on the removed slide are moved to the first slide.
func (r *Room) RemoveSlide(connectionID, slideID string) error {
	return r.withMember(connectionID, func(_ *member) error {
		r.material.RemoveSlide(slideID)
		r.broadcast(protocol.Event{
			Type:    protocol.EventSlideRemoved,
			Payload: slideRemovedPayload{ConnectionID: connectionID, SlideID: slideID},
		})
		r.refocusStranded(slideID)

		r.debouncer.Stop()
		r.dirty = true
		r.submitIfDirty()
		return nil
	})
}

// SyncMetadata overwrites the metadata fields present in patch. It does not
// arm the write timer; the change is written with the next scheduled or
// final write.
func (r *Room) SyncMetadata(connectionID string, patch materials.MetadataPatch) error {
	return r.withMember(connectionID, func(_ *member) error {
		r.material.Metadata.Apply(patch)
		r.dirty = true
		r.broadcast(protocol.Event{
			Type: protocol.EventMaterialMetadataSynchronized,
			Payload: metadataPayload{
				ConnectionID: connectionID,
				Metadata:     r.material.Header().Metadata,
			},
		})
		return nil
	})
}

// PushThumbnails records rendered previews and announces them.
func (r *Room) PushThumbnails(thumbnails []materials.Thumbnail) error {
	return r.do(func() error {
		r.material.SetThumbnails(thumbnails)
		r.broadcast(protocol.Event{
			Type:    protocol.EventThumbnailsUpdated,
			Payload: thumbnailsPayload{Slides: append([]materials.Thumbnail(nil), thumbnails...)},
		})
		return nil
	})
}

// Snapshot returns a copy of the working copy.
func (r *Room) Snapshot() (materials.Material, error) {
	var snapshot materials.Material
	err := r.do(func() error {
		snapshot = r.material.Clone()
		return nil
	})
	return snapshot, err
}

// Attendees returns the roster in join order.
func (r *Room) Attendees() ([]Attendee, error) {
	var roster []Attendee
	err := r.do(func() error {
		roster = r.roster()
		return nil
	})
	return roster, err
}

// Flush submits any pending write immediately.
func (r *Room) Flush() error {
	return r.do(func() error {
		r.debouncer.Stop()
		r.submitIfDirty()
		return nil
	})
}

func (r *Room) do(fn func() error) error {
	var result error
	if err := r.loop.Call(func() { result = fn() }); err != nil {
		return protocol.NotInRoom("collaboration room %s is closed", r.documentID)
	}
	return result
}

func (r *Room) withMember(connectionID string, fn func(actor *member) error) error {
	return r.do(func() error {
		actor, ok := r.members[connectionID]
		if !ok {
			return protocol.NotInRoom("connection is not in collaboration room %s", r.documentID)
		}
		return fn(actor)
	})
}

func (r *Room) focusedSlide(actor *member) (*materials.Slide, error) {
	slide, ok := r.material.Slide(actor.attendee.SlideID)
	if !ok {
		return nil, protocol.NotFound("focused slide %q does not exist", actor.attendee.SlideID)
	}
	return slide, nil
}

// refocusStranded moves attendees focused on slideID to the first slide.
func (r *Room) refocusStranded(slideID string) {
	first := r.material.FirstSlideID()
	for _, connectionID := range r.order {
		stranded := r.members[connectionID]
		if stranded.attendee.SlideID != slideID || slideID == first {
			continue
		}
		stranded.attendee.focus(first)
		r.broadcast(protocol.Event{
			Type:    protocol.EventSlideFocusChanged,
			Payload: focusPayload{ConnectionID: connectionID, SlideID: first},
		})
	}
}

func (r *Room) broadcast(event protocol.Event) {
	event = protocol.Prepare(event)
	for _, connectionID := range r.order {
		r.members[connectionID].peer.Send(event)
	}
}

func (r *Room) touch() {
	r.dirty = true
	r.debouncer.Trigger()
}

func (r *Room) submitIfDirty() {
	if !r.dirty {
		return
	}
	r.dirty = false
	r.writer.Submit(r.material.Clone())
}

// persistScheduled runs on the debounce timer goroutine.
func (r *Room) persistScheduled() {
	if err := r.loop.Call(r.submitIfDirty); err != nil {
		r.logger.Debug("scheduled write skipped: room closed")
	}
}

func (r *Room) joinedPayload(connectionID string) JoinedPayload {
	return JoinedPayload{
		ConnectionID: connectionID,
		Material:     r.material.Clone(),
		Attendees:    r.roster(),
	}
}

func (r *Room) roster() []Attendee {
	roster := make([]Attendee, 0, len(r.order))
	for _, connectionID := range r.order {
		roster = append(roster, r.members[connectionID].attendee.clone())
	}
	return roster
}

func removeID(ids []string, target string) []string {
	for index, id := range ids {
		if id == target {
			return append(ids[:index], ids[index+1:]...)
		}
	}
	return ids
}
