package protocol

// AnonymousName is shown for connections without an authenticated user.
const AnonymousName = "Anonymous"

// Principal identifies who is behind a connection.
type Principal struct {
	UserID      string
	DisplayName string
}

// Anonymous reports whether the connection carries no user identity.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

// Name returns the display name used for presence.
func (p Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return AnonymousName
}

// Peer is a connection as seen by rooms. Send must not block: rooms call it
// from their single task goroutine.
type Peer interface {
	ID() string
	Principal() Principal
	Send(event Event)
}
