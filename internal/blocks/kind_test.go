package blocks

import "testing"

func TestParseKindIsCaseInsensitive(t *testing.T) {
	if kind := ParseKind(" Plugin "); kind != KindPlugin {
		t.Fatalf("expected plugin kind, got %v", kind)
	}
	if kind := ParseKind("hologram"); kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %v", kind)
	}
}

func TestCapabilities(t *testing.T) {
	if !KindPlugin.Capabilities().Interactive {
		t.Fatalf("expected plugin blocks to be interactive")
	}
	if KindText.Capabilities().Interactive {
		t.Fatalf("did not expect text blocks to be interactive")
	}
	if !KindImage.Capabilities().Media {
		t.Fatalf("expected image blocks to reference media")
	}
	if !Kind(99).Capabilities().Interactive {
		t.Fatalf("expected out-of-range kinds to fall back to unknown capabilities")
	}
	if KindVideo.String() != "video" || KindUnknown.String() != "unknown" {
		t.Fatalf("unexpected kind names %q %q", KindVideo.String(), KindUnknown.String())
	}
}
