package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/broadcast"
	"github.com/MarcoPoloResearchLab/podium/internal/collab"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
)

// Handle dispatches one inbound message and reports a failure to the
// originating connection only.
func (r *Registry) Handle(ctx context.Context, peer protocol.Peer, envelope protocol.Envelope) {
	err := r.Dispatch(ctx, peer, envelope)
	if err == nil {
		return
	}
	kind := protocol.KindOf(err)
	fields := []zap.Field{
		zap.String(fieldConnectionID, peer.ID()),
		zap.String(fieldMessageType, envelope.Type),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if kind == protocol.KindInternal {
		r.logger.Error("message failed", fields...)
	} else {
		r.logger.Debug("message rejected", fields...)
	}
	peer.Send(protocol.ErrorEvent(envelope.Type, err))
}

// Dispatch routes one inbound message. It fails with NotInRoom once the
// registry has shut down.
func (r *Registry) Dispatch(ctx context.Context, peer protocol.Peer, envelope protocol.Envelope) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed {
		return protocol.NotInRoom("server is shutting down")
	}
	return r.dispatch(ctx, peer, envelope)
}

func (r *Registry) dispatch(ctx context.Context, peer protocol.Peer, envelope protocol.Envelope) error {
	switch envelope.Type {
	case protocol.TypeJoinCollaboration:
		var payload protocol.JoinCollaborationPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		_, err := r.JoinCollaboration(ctx, peer, payload.DocumentID)
		return err

	case protocol.TypeLeaveCollaboration:
		return r.LeaveCollaboration(peer)

	case protocol.TypeChangeSlideFocus:
		var payload protocol.ChangeSlideFocusPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.ChangeSlideFocus(peer.ID(), payload.SlideID)
		})

	case protocol.TypeChangeSelection:
		var payload protocol.ChangeSelectionPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.ChangeSelection(peer.ID(), payload.BlockIDs)
		})

	case protocol.TypeUpsertBlock:
		var payload protocol.UpsertBlockPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		block, err := materials.NewBlock(payload.Block)
		if err != nil {
			return protocol.ValidationFailed("%v", err)
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.UpsertBlock(peer.ID(), block)
		})

	case protocol.TypeRemoveBlock:
		var payload protocol.RemoveBlockPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.RemoveBlock(peer.ID(), payload.BlockID)
		})

	case protocol.TypeSynchronizeSlideProperties:
		var payload protocol.SlidePropertiesPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.SyncSlideProperties(peer.ID(), materials.SlideProperties{
				SlideID:  payload.SlideID,
				Size:     payload.Size,
				Color:    payload.Color,
				Position: payload.Position,
			})
		})

	case protocol.TypeRemoveSlide:
		var payload protocol.RemoveSlidePayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.RemoveSlide(peer.ID(), payload.SlideID)
		})

	case protocol.TypeSynchronizeMaterialMetadata:
		var payload protocol.MaterialMetadataPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withRoom(peer, func(room *collab.Room) error {
			return room.SyncMetadata(peer.ID(), payload)
		})

	case protocol.TypeJoinBroadcast:
		var payload protocol.JoinBroadcastPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.JoinBroadcast(ctx, peer, payload.DocumentID, payload.SessionCode, payload.AsPresenter)

	case protocol.TypeLeaveBroadcast:
		return r.LeaveBroadcast(peer)

	case protocol.TypeChangeSlide:
		var payload protocol.ChangeSlidePayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withSession(peer, func(session *broadcast.Session) error {
			return session.ChangeSlide(ctx, peer.ID(), payload.SlideID)
		})

	case protocol.TypeSynchronizeAnnotation:
		var payload protocol.AnnotationPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withSession(peer, func(session *broadcast.Session) error {
			return session.SyncAnnotation(peer.ID(), payload.Content)
		})

	case protocol.TypeSendInteraction:
		var payload protocol.InteractionPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withSession(peer, func(session *broadcast.Session) error {
			return session.SendInteraction(ctx, peer.ID(), payload.BlockID, payload.Message)
		})

	case protocol.TypeBroadcastInteraction:
		var payload protocol.InteractionPayload
		if err := decode(envelope, &payload); err != nil {
			return err
		}
		return r.withSession(peer, func(session *broadcast.Session) error {
			return session.BroadcastInteraction(ctx, peer.ID(), payload.BlockID, payload.Message)
		})

	default:
		return protocol.ValidationFailed("unknown message type %q", envelope.Type)
	}
}

func (r *Registry) withRoom(peer protocol.Peer, fn func(room *collab.Room) error) error {
	room := r.attachedRoom(peer.ID())
	if room == nil {
		return protocol.NotInRoom("connection has not joined a collaboration room")
	}
	return fn(room)
}

func (r *Registry) withSession(peer protocol.Peer, fn func(session *broadcast.Session) error) error {
	session := r.attachedSession(peer.ID())
	if session == nil {
		return protocol.NotInRoom("connection has not joined a broadcast session")
	}
	return fn(session)
}

func decode(envelope protocol.Envelope, target any) error {
	if len(envelope.Payload) == 0 {
		return protocol.ValidationFailed("%s requires a payload", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return protocol.ValidationFailed("malformed %s payload: %v", envelope.Type, err)
	}
	return nil
}
