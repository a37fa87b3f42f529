package broadcast

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

// Roles a connection can hold in a session.
const (
	RolePresenter = "presenter"
	RoleViewer    = "viewer"
)

// JoinedPayload answers a presenter start or a viewer join.
type JoinedPayload struct {
	ConnectionID string             `json:"connectionId"`
	DocumentID   string             `json:"documentId"`
	SessionCode  string             `json:"sessionCode"`
	Role         string             `json:"role"`
	SlideID      string             `json:"slideId"`
	Material     materials.Material `json:"material"`
}

type sessionPayload struct {
	DocumentID  string `json:"documentId"`
	SessionCode string `json:"sessionCode"`
}

type slideChangedPayload struct {
	SlideID string `json:"slideId"`
}

type annotationPayload struct {
	SlideID string          `json:"slideId"`
	Content json.RawMessage `json:"content"`
}

type interactionPayload struct {
	ConnectionID string          `json:"connectionId"`
	BlockID      string          `json:"blockId,omitempty"`
	Message      json.RawMessage `json:"message"`
}
