// Package blocks enumerates the content block variants a slide can hold and
// the fixed capabilities of each.
package blocks

import "strings"

// Kind is a closed set of block variants.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindShape
	KindVideo
	KindTable
	KindChart
	KindPlugin
)

// Capabilities describes what a block variant supports.
type Capabilities struct {
	Resizable bool
	Rotatable bool
	// Interactive blocks accept viewer input during a broadcast.
	Interactive bool
	// Media blocks reference uploaded assets.
	Media bool
}

var kindNames = map[string]Kind{
	"text":   KindText,
	"image":  KindImage,
	"shape":  KindShape,
	"video":  KindVideo,
	"table":  KindTable,
	"chart":  KindChart,
	"plugin": KindPlugin,
}

var capabilityTable = [...]Capabilities{
	KindUnknown: {Resizable: true, Rotatable: true, Interactive: true},
	KindText:    {Resizable: true, Rotatable: true},
	KindImage:   {Resizable: true, Rotatable: true, Media: true},
	KindShape:   {Resizable: true, Rotatable: true},
	KindVideo:   {Resizable: true, Interactive: true, Media: true},
	KindTable:   {Resizable: true},
	KindChart:   {Resizable: true},
	KindPlugin:  {Resizable: true, Interactive: true},
}

// ParseKind maps the wire name of a block type onto a Kind. Unrecognized
// names map to KindUnknown, which is treated permissively.
func ParseKind(name string) Kind {
	if kind, ok := kindNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return KindUnknown
}

// Capabilities returns the fixed capability set of the kind.
func (k Kind) Capabilities() Capabilities {
	if k < 0 || int(k) >= len(capabilityTable) {
		return capabilityTable[KindUnknown]
	}
	return capabilityTable[k]
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}
