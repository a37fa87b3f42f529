// Package broadcast implements live delivery sessions: one presenter drives
// the slide focus and annotations seen by any number of viewers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/actor"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
)

var (
	errMissingPresenter = errors.New("presenter connection is required")
	errMissingCode      = errors.New("session code is required")
)

// DocumentSource returns the current state of the broadcast document.
type DocumentSource func(ctx context.Context) (materials.Material, error)

// SessionConfig describes a session.
type SessionConfig struct {
	Material materials.Material
	// Source is consulted before every check against the document. A nil
	// Source pins the session to Material.
	Source    DocumentSource
	Code      string
	Presenter protocol.Peer
	Logger    *zap.Logger
}

// Departure describes the effect of a participant leaving.
type Departure struct {
	// Teardown is set when the presenter left and the session ended.
	Teardown bool
	// Evicted lists the viewers removed by the teardown.
	Evicted []string
}

// Session is a broadcast room for one (document, code) pair. It ends as
// soon as its presenter leaves.
type Session struct {
	documentID string
	code       string
	loop       *actor.Loop
	logger     *zap.Logger
	source     DocumentSource

	material     materials.Material
	presenter    protocol.Peer
	viewers      map[string]protocol.Peer
	order        []string
	currentSlide string
	overlays     map[string]json.RawMessage
}

// Start creates a session, attaches the presenter and notifies it.
func Start(cfg SessionConfig) (*Session, error) {
	if cfg.Presenter == nil {
		return nil, errMissingPresenter
	}
	if cfg.Code == "" {
		return nil, errMissingCode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	session := &Session{
		documentID: cfg.Material.ID,
		code:       cfg.Code,
		loop:       actor.New(),
		logger: logger.With(
			zap.String("document_id", cfg.Material.ID),
			zap.String("session_code", cfg.Code),
		),
		source:       cfg.Source,
		material:     cfg.Material.Clone(),
		presenter:    cfg.Presenter,
		viewers:      make(map[string]protocol.Peer),
		currentSlide: cfg.Material.FirstSlideID(),
		overlays:     make(map[string]json.RawMessage),
	}
	session.loop.Start()
	err := session.do(func() error {
		session.presenter.Send(protocol.Event{
			Type:    protocol.EventBroadcastJoined,
			Payload: session.joinedPayload(session.presenter.ID(), RolePresenter),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	session.logger.Info("broadcast session started", zap.String("connection_id", cfg.Presenter.ID()))
	return session, nil
}

// DocumentID returns the broadcast document id.
func (s *Session) DocumentID() string {
	return s.documentID
}

// Code returns the session code.
func (s *Session) Code() string {
	return s.code
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// AddViewer attaches a viewer, replies with the current slide and replays
// every overlay in slide order.
func (s *Session) AddViewer(ctx context.Context, peer protocol.Peer) error {
	return s.do(func() error {
		if peer.ID() == s.presenter.ID() {
			return protocol.ValidationFailed("presenter cannot join its own session as a viewer")
		}
		if err := s.refresh(ctx); err != nil {
			return err
		}
		if _, ok := s.viewers[peer.ID()]; !ok {
			s.viewers[peer.ID()] = peer
			s.order = append(s.order, peer.ID())
		}
		peer.Send(protocol.Event{
			Type:    protocol.EventBroadcastJoined,
			Payload: s.joinedPayload(peer.ID(), RoleViewer),
		})
		for _, slideID := range s.overlaySlides() {
			peer.Send(protocol.Event{
				Type:    protocol.EventAnnotationSynchronized,
				Payload: annotationPayload{SlideID: slideID, Content: s.overlays[slideID]},
			})
		}
		return nil
	})
}

// Leave detaches a participant. A presenter departure ends the session and
// notifies every viewer; a viewer departure is silent.
func (s *Session) Leave(connectionID string) (Departure, error) {
	var departure Departure
	err := s.do(func() error {
		left := protocol.Event{
			Type:    protocol.EventBroadcastLeft,
			Payload: sessionPayload{DocumentID: s.documentID, SessionCode: s.code},
		}
		if connectionID == s.presenter.ID() {
			s.presenter.Send(left)
			s.toViewers(protocol.Event{
				Type:    protocol.EventPresenterDisconnected,
				Payload: sessionPayload{DocumentID: s.documentID, SessionCode: s.code},
			})
			departure = Departure{Teardown: true, Evicted: append([]string(nil), s.order...)}
			s.viewers = map[string]protocol.Peer{}
			s.order = nil
			s.loop.Halt()
			s.logger.Info("broadcast session ended", zap.Int("evicted_viewers", len(departure.Evicted)))
			return nil
		}
		viewer, ok := s.viewers[connectionID]
		if !ok {
			return protocol.NotInRoom("connection is not in broadcast session %s", s.code)
		}
		delete(s.viewers, connectionID)
		s.order = removeID(s.order, connectionID)
		viewer.Send(left)
		return nil
	})
	return departure, err
}

// ChangeSlide moves every viewer to slideID.
func (s *Session) ChangeSlide(ctx context.Context, connectionID, slideID string) error {
	return s.asPresenter(connectionID, func() error {
		if err := s.refresh(ctx); err != nil {
			return err
		}
		if !s.material.HasSlide(slideID) {
			return protocol.NotFound("slide %q does not exist", slideID)
		}
		s.currentSlide = slideID
		s.toViewers(protocol.Event{
			Type:    protocol.EventSlideChanged,
			Payload: slideChangedPayload{SlideID: slideID},
		})
		return nil
	})
}

// SyncAnnotation replaces the overlay of the current slide.
func (s *Session) SyncAnnotation(connectionID string, content json.RawMessage) error {
	return s.asPresenter(connectionID, func() error {
		if len(content) == 0 || string(content) == "null" {
			return protocol.ValidationFailed("annotation content is required")
		}
		if s.currentSlide == "" {
			return protocol.NotFound("session has no current slide")
		}
		overlay := append(json.RawMessage(nil), content...)
		s.overlays[s.currentSlide] = overlay
		s.toViewers(protocol.Event{
			Type:    protocol.EventAnnotationSynchronized,
			Payload: annotationPayload{SlideID: s.currentSlide, Content: overlay},
		})
		return nil
	})
}

// SendInteraction forwards a viewer interaction to the presenter. A block
// known to the document must be of an interactive kind.
func (s *Session) SendInteraction(ctx context.Context, connectionID, blockID string, message json.RawMessage) error {
	return s.do(func() error {
		if connectionID == s.presenter.ID() {
			return protocol.Forbidden("only viewers can send interactions")
		}
		if _, ok := s.viewers[connectionID]; !ok {
			return protocol.NotInRoom("connection is not in broadcast session %s", s.code)
		}
		if err := s.checkInteractive(ctx, blockID); err != nil {
			return err
		}
		s.presenter.Send(protocol.Event{
			Type: protocol.EventInteraction,
			Payload: interactionPayload{
				ConnectionID: connectionID,
				BlockID:      blockID,
				Message:      append(json.RawMessage(nil), message...),
			},
		})
		return nil
	})
}

// BroadcastInteraction fans a presenter interaction out to every viewer.
func (s *Session) BroadcastInteraction(ctx context.Context, connectionID, blockID string, message json.RawMessage) error {
	return s.asPresenter(connectionID, func() error {
		if err := s.checkInteractive(ctx, blockID); err != nil {
			return err
		}
		s.toViewers(protocol.Event{
			Type: protocol.EventInteraction,
			Payload: interactionPayload{
				ConnectionID: connectionID,
				BlockID:      blockID,
				Message:      append(json.RawMessage(nil), message...),
			},
		})
		return nil
	})
}

// CurrentSlide returns the slide the presenter is showing.
func (s *Session) CurrentSlide() (string, error) {
	var slideID string
	err := s.do(func() error {
		slideID = s.currentSlide
		return nil
	})
	return slideID, err
}

// ViewerIDs returns the attached viewers in join order.
func (s *Session) ViewerIDs() ([]string, error) {
	var ids []string
	err := s.do(func() error {
		ids = append([]string(nil), s.order...)
		return nil
	})
	return ids, err
}

func (s *Session) do(fn func() error) error {
	var result error
	if err := s.loop.Call(func() { result = fn() }); err != nil {
		return protocol.NotInRoom("broadcast session %s has ended", s.code)
	}
	return result
}

func (s *Session) asPresenter(connectionID string, fn func() error) error {
	return s.do(func() error {
		if connectionID != s.presenter.ID() {
			if _, ok := s.viewers[connectionID]; ok {
				return protocol.Forbidden("only the presenter can do this")
			}
			return protocol.NotInRoom("connection is not in broadcast session %s", s.code)
		}
		return fn()
	})
}

func (s *Session) checkInteractive(ctx context.Context, blockID string) error {
	if blockID == "" {
		return nil
	}
	if err := s.refresh(ctx); err != nil {
		return err
	}
	block, ok := s.material.FindBlock(blockID)
	if !ok {
		return nil
	}
	if !block.Kind().Capabilities().Interactive {
		return protocol.ValidationFailed("block %q of kind %s is not interactive", blockID, block.Kind())
	}
	return nil
}

// refresh replaces the session copy of the document with its current state.
func (s *Session) refresh(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	material, err := s.source(ctx)
	if err != nil {
		return err
	}
	s.material = material
	return nil
}

func (s *Session) toViewers(event protocol.Event) {
	event = protocol.Prepare(event)
	for _, viewerID := range s.order {
		s.viewers[viewerID].Send(event)
	}
}

// overlaySlides lists slides carrying an overlay, in document order
// followed by any slides unknown to the document.
func (s *Session) overlaySlides() []string {
	ordered := make([]string, 0, len(s.overlays))
	seen := make(map[string]struct{}, len(s.overlays))
	for _, slide := range s.material.Slides {
		if _, ok := s.overlays[slide.ID]; ok {
			ordered = append(ordered, slide.ID)
			seen[slide.ID] = struct{}{}
		}
	}
	var rest []string
	for slideID := range s.overlays {
		if _, ok := seen[slideID]; !ok {
			rest = append(rest, slideID)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

func (s *Session) joinedPayload(connectionID, role string) JoinedPayload {
	return JoinedPayload{
		ConnectionID: connectionID,
		DocumentID:   s.documentID,
		SessionCode:  s.code,
		Role:         role,
		SlideID:      s.currentSlide,
		Material:     s.material.Clone(),
	}
}

func removeID(ids []string, target string) []string {
	for index, id := range ids {
		if id == target {
			return append(ids[:index], ids[index+1:]...)
		}
	}
	return ids
}
