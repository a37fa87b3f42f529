// Package collab implements the collaboration room: the live working copy of
// one document shared by every editor connected to it.
package collab

import "github.com/MarcoPoloResearchLab/podium/internal/protocol"

var palette = [...]string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#bfef45",
	"#fabed4", "#469990", "#dcbeff", "#9a6324",
}

// Attendee is the presence record of one connection in a room.
type Attendee struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId,omitempty"`
	Name         string   `json:"name"`
	Color        string   `json:"color"`
	SlideID      string   `json:"slideId"`
	Selection    []string `json:"selection"`
}

func newAttendee(peer protocol.Peer, color, slideID string) Attendee {
	principal := peer.Principal()
	return Attendee{
		ConnectionID: peer.ID(),
		UserID:       principal.UserID,
		Name:         principal.Name(),
		Color:        color,
		SlideID:      slideID,
		Selection:    []string{},
	}
}

// focus moves the attendee to slideID and clears its selection.
func (a *Attendee) focus(slideID string) {
	a.SlideID = slideID
	a.Selection = []string{}
}

func (a Attendee) clone() Attendee {
	copied := a
	copied.Selection = append([]string{}, a.Selection...)
	return copied
}
