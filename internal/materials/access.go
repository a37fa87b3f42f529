package materials

import (
	"context"
	"errors"
)

// AttendeeLookup reports material invitations.
type AttendeeLookup interface {
	IsAttendee(ctx context.Context, materialID, userID string) (bool, error)
}

// AccessPolicy decides who may join the rooms of a material. Edit access
// requires ownership or an invitation; viewing a broadcast additionally
// admits anyone when the material is public.
type AccessPolicy struct {
	attendees AttendeeLookup
}

// NewAccessPolicy constructs an AccessPolicy backed by attendees.
func NewAccessPolicy(attendees AttendeeLookup) (*AccessPolicy, error) {
	if attendees == nil {
		return nil, errors.New("materials: attendee lookup is required")
	}
	return &AccessPolicy{attendees: attendees}, nil
}

// CanJoinCollaboration reports whether userID may edit the material.
func (p *AccessPolicy) CanJoinCollaboration(ctx context.Context, userID string, material Material) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if material.OwnerID == userID {
		return true, nil
	}
	return p.attendees.IsAttendee(ctx, material.ID, userID)
}

// CanJoinBroadcast reports whether userID may present or watch the material.
func (p *AccessPolicy) CanJoinBroadcast(ctx context.Context, userID string, material Material, asPresenter bool) (bool, error) {
	if !asPresenter && material.Metadata.Visibility == VisibilityPublic {
		return true, nil
	}
	return p.CanJoinCollaboration(ctx, userID, material)
}
