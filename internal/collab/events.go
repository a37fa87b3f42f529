package collab

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

// JoinedPayload answers a join with the full room state.
type JoinedPayload struct {
	ConnectionID string             `json:"connectionId"`
	Material     materials.Material `json:"material"`
	Attendees    []Attendee         `json:"attendees"`
}

type presenceLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

type focusPayload struct {
	ConnectionID string `json:"connectionId"`
	SlideID      string `json:"slideId"`
}

type selectionPayload struct {
	ConnectionID string   `json:"connectionId"`
	SlideID      string   `json:"slideId"`
	BlockIDs     []string `json:"blockIds"`
}

type blockUpsertedPayload struct {
	ConnectionID string          `json:"connectionId"`
	SlideID      string          `json:"slideId"`
	Block        json.RawMessage `json:"block"`
}

type blockRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
	SlideID      string `json:"slideId"`
	BlockID      string `json:"blockId"`
}

type slidePropertiesPayload struct {
	ConnectionID string         `json:"connectionId"`
	SlideID      string         `json:"slideId"`
	Size         materials.Size `json:"size"`
	Color        string         `json:"color"`
	Position     int            `json:"position"`
}

type slideRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
	SlideID      string `json:"slideId"`
}

type metadataPayload struct {
	ConnectionID string             `json:"connectionId"`
	Metadata     materials.Metadata `json:"metadata"`
}

type thumbnailsPayload struct {
	Slides []materials.Thumbnail `json:"slides"`
}
