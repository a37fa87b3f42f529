// Package protocol defines the JSON messages exchanged over a realtime
// connection, the per-message error taxonomy and the Peer abstraction rooms
// use to reach connections.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

// Inbound message types.
const (
	TypeJoinCollaboration           = "joinCollaboration"
	TypeLeaveCollaboration          = "leaveCollaboration"
	TypeChangeSlideFocus            = "changeSlideFocus"
	TypeChangeSelection             = "changeSelection"
	TypeUpsertBlock                 = "upsertBlock"
	TypeRemoveBlock                 = "removeBlock"
	TypeSynchronizeSlideProperties  = "synchronizeSlideProperties"
	TypeRemoveSlide                 = "removeSlide"
	TypeSynchronizeMaterialMetadata = "synchronizeMaterialMetadata"

	TypeJoinBroadcast         = "joinBroadcast"
	TypeLeaveBroadcast        = "leaveBroadcast"
	TypeSendInteraction       = "sendInteraction"
	TypeChangeSlide           = "changeSlide"
	TypeSynchronizeAnnotation = "synchronizeAnnotation"
	TypeBroadcastInteraction  = "broadcastInteraction"
)

// Outbound event types.
const (
	EventCollaborationJoined          = "collaborationJoined"
	EventCollaborationLeft            = "collaborationLeft"
	EventPresenceJoined               = "presenceJoined"
	EventPresenceLeft                 = "presenceLeft"
	EventSlideFocusChanged            = "slideFocusChanged"
	EventSelectionChanged             = "selectionChanged"
	EventBlockUpserted                = "blockUpserted"
	EventBlockRemoved                 = "blockRemoved"
	EventSlidePropertiesSynchronized  = "slidePropertiesSynchronized"
	EventSlideRemoved                 = "slideRemoved"
	EventMaterialMetadataSynchronized = "materialMetadataSynchronized"
	EventThumbnailsUpdated            = "thumbnailsUpdated"

	EventBroadcastJoined        = "broadcastJoined"
	EventBroadcastLeft          = "broadcastLeft"
	EventSlideChanged           = "slideChanged"
	EventAnnotationSynchronized = "annotationSynchronized"
	EventPresenterDisconnected  = "presenterDisconnected"
	EventInteraction            = "interaction"

	EventError = "error"
)

// Envelope is the frame every client message arrives in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the frame every server message leaves in.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`

	encoded []byte
}

// Prepare encodes event once so fanning it out to many peers does not
// re-encode it per recipient. An event that fails to encode is returned
// unchanged and fails again in Encode.
func Prepare(event Event) Event {
	if event.encoded != nil {
		return event
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return event
	}
	event.encoded = encoded
	return event
}

// Encode returns the wire form of event.
func (e Event) Encode() ([]byte, error) {
	if e.encoded != nil {
		return e.encoded, nil
	}
	return json.Marshal(e)
}

// ErrorPayload describes a rejected inbound message.
type ErrorPayload struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message,omitempty"`
	RequestType string `json:"requestType,omitempty"`
}

// ErrorEvent builds the reply for a message rejected with err.
func ErrorEvent(requestType string, err error) Event {
	payload := ErrorPayload{Kind: KindOf(err), RequestType: requestType}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		payload.Message = protocolErr.Message()
	}
	return Event{Type: EventError, Payload: payload}
}

type JoinCollaborationPayload struct {
	DocumentID string `json:"documentId"`
}

type ChangeSlideFocusPayload struct {
	SlideID string `json:"slideId"`
}

type ChangeSelectionPayload struct {
	BlockIDs []string `json:"blockIds"`
}

type UpsertBlockPayload struct {
	Block json.RawMessage `json:"block"`
}

type RemoveBlockPayload struct {
	BlockID string `json:"blockId"`
}

type SlidePropertiesPayload struct {
	SlideID  string         `json:"slideId"`
	Size     materials.Size `json:"size"`
	Color    string         `json:"color"`
	Position int            `json:"position"`
}

type RemoveSlidePayload struct {
	SlideID string `json:"slideId"`
}

type MaterialMetadataPayload = materials.MetadataPatch

type JoinBroadcastPayload struct {
	DocumentID  string `json:"documentId"`
	SessionCode string `json:"sessionCode"`
	AsPresenter bool   `json:"asPresenter"`
}

type ChangeSlidePayload struct {
	SlideID string `json:"slideId"`
}

type AnnotationPayload struct {
	Content json.RawMessage `json:"content"`
}

type InteractionPayload struct {
	Message json.RawMessage `json:"message"`
	BlockID string          `json:"blockId"`
}
