package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

type blockingSaver struct {
	mu      sync.Mutex
	saved   []materials.Material
	release chan struct{}
	started chan string
}

func newBlockingSaver() *blockingSaver {
	return &blockingSaver{release: make(chan struct{}), started: make(chan string, 16)}
}

func (s *blockingSaver) Save(_ context.Context, material materials.Material) error {
	s.started <- material.ID
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, material)
	return nil
}

func (s *blockingSaver) versions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make([]int64, 0, len(s.saved))
	for _, material := range s.saved {
		versions = append(versions, material.Version)
	}
	return versions
}

func TestWriterCoalescesWhileWriteInFlight(t *testing.T) {
	saver := newBlockingSaver()
	var savedIDs []string
	var savedMu sync.Mutex
	writer, err := NewWriter(WriterConfig{
		Saver: saver,
		OnSaved: func(documentID string) {
			savedMu.Lock()
			savedIDs = append(savedIDs, documentID)
			savedMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("failed to construct writer: %v", err)
	}

	writer.Submit(materials.Material{ID: "doc", Version: 1})
	<-saver.started
	writer.Submit(materials.Material{ID: "doc", Version: 2})
	writer.Submit(materials.Material{ID: "doc", Version: 3})
	writer.Submit(materials.Material{ID: "doc", Version: 4})

	close(saver.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	versions := saver.versions()
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 4 {
		t.Fatalf("expected writes of versions [1 4], got %v", versions)
	}
	savedMu.Lock()
	defer savedMu.Unlock()
	if len(savedIDs) != 2 {
		t.Fatalf("expected saved hook per write, got %v", savedIDs)
	}
}

func TestWriterAwaitBlocksUntilDrained(t *testing.T) {
	saver := newBlockingSaver()
	writer, err := NewWriter(WriterConfig{Saver: saver})
	if err != nil {
		t.Fatalf("failed to construct writer: %v", err)
	}
	if err := writer.Await(context.Background(), "doc"); err != nil {
		t.Fatalf("expected idle await to return immediately, got %v", err)
	}

	writer.Submit(materials.Material{ID: "doc"})
	<-saver.started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := writer.Await(short, "doc"); err == nil {
		t.Fatalf("expected await to block while the write is in flight")
	}

	close(saver.release)
	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if err := writer.Await(ctx, "doc"); err != nil {
		t.Fatalf("await failed: %v", err)
	}
}

func TestWriterWaitCoversEveryDocument(t *testing.T) {
	saver := newBlockingSaver()
	writer, err := NewWriter(WriterConfig{Saver: saver})
	if err != nil {
		t.Fatalf("failed to construct writer: %v", err)
	}
	if err := writer.Wait(context.Background()); err != nil {
		t.Fatalf("expected idle wait to return immediately, got %v", err)
	}

	writer.Submit(materials.Material{ID: "first"})
	writer.Submit(materials.Material{ID: "second"})
	<-saver.started
	<-saver.started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := writer.Wait(short); err == nil {
		t.Fatalf("expected wait to block while writes are in flight")
	}

	close(saver.release)
	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if err := writer.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if versions := saver.versions(); len(versions) != 2 {
		t.Fatalf("expected both documents written, got %d writes", len(versions))
	}
}

func TestWriterDropsSubmissionsAfterClose(t *testing.T) {
	saver := newBlockingSaver()
	close(saver.release)
	writer, err := NewWriter(WriterConfig{Saver: saver})
	if err != nil {
		t.Fatalf("failed to construct writer: %v", err)
	}

	writer.Submit(materials.Material{ID: "doc", Version: 1})
	writer.Close()
	writer.Submit(materials.Material{ID: "doc", Version: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if err := writer.Await(ctx, "doc"); err != nil {
		t.Fatalf("await failed: %v", err)
	}
	versions := saver.versions()
	if len(versions) != 1 || versions[0] != 1 {
		t.Fatalf("expected only the write queued before close, got %v", versions)
	}
}
