package protocol

import (
	"bytes"
	"errors"
	"testing"
)

type countingPayload struct {
	encodes *int
}

func (p countingPayload) MarshalJSON() ([]byte, error) {
	*p.encodes++
	return []byte(`{"slideId":"s1"}`), nil
}

type failingPayload struct{}

func (failingPayload) MarshalJSON() ([]byte, error) {
	return nil, errors.New("unencodable")
}

func TestPreparedEventEncodesOnce(t *testing.T) {
	encodes := 0
	event := Prepare(Event{Type: EventSlideChanged, Payload: countingPayload{encodes: &encodes}})

	first, err := event.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for range 3 {
		again, err := event.Encode()
		if err != nil || !bytes.Equal(again, first) {
			t.Fatalf("expected identical encoding, got %s %v", again, err)
		}
	}
	if encodes != 1 {
		t.Fatalf("expected payload encoded once, got %d", encodes)
	}
	if want := `{"type":"slideChanged","payload":{"slideId":"s1"}}`; string(first) != want {
		t.Fatalf("unexpected wire form %s", first)
	}
}

func TestUnpreparedEventEncodesPerCall(t *testing.T) {
	encodes := 0
	event := Event{Type: EventSlideChanged, Payload: countingPayload{encodes: &encodes}}
	for range 2 {
		if _, err := event.Encode(); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}
	if encodes != 2 {
		t.Fatalf("expected an encode per call, got %d", encodes)
	}
}

func TestPrepareKeepsEncodingFailure(t *testing.T) {
	event := Prepare(Event{Type: EventInteraction, Payload: failingPayload{}})
	if _, err := event.Encode(); err == nil {
		t.Fatalf("expected encoding failure to surface on Encode")
	}
}
