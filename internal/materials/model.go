package materials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/podium/internal/blocks"
)

const maxIdentifierLength = 190

// Visibility values understood by the access policy.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

var (
	// ErrInvalidMaterialID indicates that a material identifier is empty or exceeds storage bounds.
	ErrInvalidMaterialID = errors.New("materials: invalid material id")
	// ErrInvalidBlock indicates that a block payload is not an object with a string id.
	ErrInvalidBlock = errors.New("materials: invalid block payload")
)

// ValidateID checks a material or slide identifier.
func ValidateID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMaterialID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMaterialID, maxIdentifierLength)
	}
	return trimmed, nil
}

// Size is a slide canvas size in logical pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Block is an opaque content payload. Only its id and type are interpreted.
type Block struct {
	id   string
	kind blocks.Kind
	raw  json.RawMessage
}

// NewBlock validates raw and returns the block it describes.
func NewBlock(raw json.RawMessage) (Block, error) {
	var header struct {
		ID   *string `json:"id"`
		Type string  `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	if header.ID == nil || strings.TrimSpace(*header.ID) == "" {
		return Block{}, fmt.Errorf("%w: missing id", ErrInvalidBlock)
	}
	return Block{
		id:   *header.ID,
		kind: blocks.ParseKind(header.Type),
		raw:  append(json.RawMessage(nil), raw...),
	}, nil
}

// ID returns the block identity.
func (b Block) ID() string {
	return b.id
}

// Kind returns the block variant.
func (b Block) Kind() blocks.Kind {
	return b.kind
}

// Raw returns the payload exactly as received.
func (b Block) Raw() json.RawMessage {
	return b.raw
}

func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.raw) == 0 {
		return []byte("null"), nil
	}
	return b.raw, nil
}

func (b *Block) UnmarshalJSON(data []byte) error {
	parsed, err := NewBlock(data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Slide is one page of a material.
type Slide struct {
	ID        string  `json:"id"`
	Size      Size    `json:"size"`
	Color     string  `json:"color"`
	Position  int     `json:"position"`
	Blocks    []Block `json:"blocks"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// UpsertBlock replaces the block with the same id or appends it.
func (s *Slide) UpsertBlock(block Block) {
	for index := range s.Blocks {
		if s.Blocks[index].id == block.id {
			s.Blocks[index] = block
			return
		}
	}
	s.Blocks = append(s.Blocks, block)
}

// RemoveBlock deletes the block with the given id and reports whether it existed.
func (s *Slide) RemoveBlock(blockID string) bool {
	for index := range s.Blocks {
		if s.Blocks[index].id == blockID {
			s.Blocks = append(s.Blocks[:index], s.Blocks[index+1:]...)
			return true
		}
	}
	return false
}

func (s Slide) clone() Slide {
	copied := s
	copied.Blocks = append([]Block(nil), s.Blocks...)
	return copied
}

// Metadata holds document level settings.
type Metadata struct {
	Name           string            `json:"name"`
	Visibility     string            `json:"visibility"`
	PlaybackMethod string            `json:"playbackMethod"`
	PlaybackTiming float64           `json:"playbackTiming"`
	SizingMode     string            `json:"sizingMode"`
	Plugins        []json.RawMessage `json:"plugins"`
}

// MetadataPatch carries the metadata fields a client chose to overwrite.
type MetadataPatch struct {
	Name           *string            `json:"name,omitempty"`
	Visibility     *string            `json:"visibility,omitempty"`
	PlaybackMethod *string            `json:"playbackMethod,omitempty"`
	PlaybackTiming *float64           `json:"playbackTiming,omitempty"`
	SizingMode     *string            `json:"sizingMode,omitempty"`
	Plugins        *[]json.RawMessage `json:"plugins,omitempty"`
}

// Apply overwrites every field present in patch.
func (m *Metadata) Apply(patch MetadataPatch) {
	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.Visibility != nil {
		m.Visibility = *patch.Visibility
	}
	if patch.PlaybackMethod != nil {
		m.PlaybackMethod = *patch.PlaybackMethod
	}
	if patch.PlaybackTiming != nil {
		m.PlaybackTiming = *patch.PlaybackTiming
	}
	if patch.SizingMode != nil {
		m.SizingMode = *patch.SizingMode
	}
	if patch.Plugins != nil {
		m.Plugins = append([]json.RawMessage(nil), (*patch.Plugins)...)
	}
}

// Thumbnail is a rendered preview for one slide.
type Thumbnail struct {
	SlideID string `json:"slideId"`
	URL     string `json:"url"`
}

// Material is a presentation: metadata plus slides ordered by position.
type Material struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"ownerId"`
	Metadata Metadata `json:"metadata"`
	Slides   []Slide  `json:"slides"`
	Version  int64    `json:"version"`
}

// Clone returns a copy that shares no mutable state with m. Block payloads
// are immutable and shared.
func (m Material) Clone() Material {
	copied := m
	copied.Metadata.Plugins = append([]json.RawMessage(nil), m.Metadata.Plugins...)
	copied.Slides = make([]Slide, len(m.Slides))
	for index, slide := range m.Slides {
		copied.Slides[index] = slide.clone()
	}
	return copied
}

// Header returns the material without slides.
func (m Material) Header() Material {
	header := m
	header.Slides = nil
	header.Metadata.Plugins = append([]json.RawMessage(nil), m.Metadata.Plugins...)
	return header
}

// FirstSlideID returns the id of the first slide, or "" for an empty material.
func (m Material) FirstSlideID() string {
	if len(m.Slides) == 0 {
		return ""
	}
	return m.Slides[0].ID
}

// Slide returns the slide with the given id.
func (m *Material) Slide(slideID string) (*Slide, bool) {
	for index := range m.Slides {
		if m.Slides[index].ID == slideID {
			return &m.Slides[index], true
		}
	}
	return nil, false
}

// HasSlide reports whether slideID names a slide of the material.
func (m Material) HasSlide(slideID string) bool {
	_, ok := m.Slide(slideID)
	return ok
}

// FindBlock returns the block with the given id from any slide.
func (m Material) FindBlock(blockID string) (Block, bool) {
	for _, slide := range m.Slides {
		for _, block := range slide.Blocks {
			if block.id == blockID {
				return block, true
			}
		}
	}
	return Block{}, false
}

// SlideProperties are the slide fields synchronized by editors.
type SlideProperties struct {
	SlideID  string
	Size     Size
	Color    string
	Position int
}

// ApplySlideProperties updates the slide or creates it with no blocks, and
// reports whether it was created.
func (m *Material) ApplySlideProperties(props SlideProperties) bool {
	slide, ok := m.Slide(props.SlideID)
	created := !ok
	if created {
		m.Slides = append(m.Slides, Slide{ID: props.SlideID, Blocks: []Block{}})
		slide = &m.Slides[len(m.Slides)-1]
	}
	slide.Size = props.Size
	slide.Color = props.Color
	slide.Position = props.Position
	m.sortSlides()
	return created
}

// RemoveSlide deletes the slide and reports whether it existed.
func (m *Material) RemoveSlide(slideID string) bool {
	for index := range m.Slides {
		if m.Slides[index].ID == slideID {
			m.Slides = append(m.Slides[:index], m.Slides[index+1:]...)
			return true
		}
	}
	return false
}

// SetThumbnails records rendered previews on the matching slides.
func (m *Material) SetThumbnails(thumbnails []Thumbnail) {
	for _, thumbnail := range thumbnails {
		if slide, ok := m.Slide(thumbnail.SlideID); ok {
			slide.Thumbnail = thumbnail.URL
		}
	}
}

func (m *Material) sortSlides() {
	sort.SliceStable(m.Slides, func(i, j int) bool {
		return m.Slides[i].Position < m.Slides[j].Position
	})
}
