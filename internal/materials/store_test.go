package materials

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database: openTestDatabase(t),
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestStoreRoundTripsMaterial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	material := Material{
		ID:       "deck-1",
		OwnerID:  "owner-1",
		Metadata: Metadata{Name: "Quarterly"},
		Slides: []Slide{
			{ID: "s2", Position: 2},
			{ID: "s1", Position: 1, Color: "#123456"},
		},
	}
	material.Slides[1].UpsertBlock(mustBlock(t, `{"id":"b1","type":"text","text":"hi"}`))
	if err := store.Create(ctx, material); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	loaded, err := store.Load(ctx, "deck-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Metadata.Visibility != VisibilityPrivate {
		t.Fatalf("expected default visibility, got %q", loaded.Metadata.Visibility)
	}
	if loaded.FirstSlideID() != "s1" {
		t.Fatalf("expected slides ordered by position, got %s", loaded.FirstSlideID())
	}
	if len(loaded.Slides[0].Blocks) != 1 || string(loaded.Slides[0].Blocks[0].Raw()) != `{"id":"b1","type":"text","text":"hi"}` {
		t.Fatalf("unexpected blocks: %+v", loaded.Slides[0].Blocks)
	}
	if loaded.Version != 1 {
		t.Fatalf("expected version 1, got %d", loaded.Version)
	}
}

func TestStoreSaveBumpsVersionAndKeepsOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, Material{ID: "deck-1", OwnerID: "owner-1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	working, err := store.Load(ctx, "deck-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	working.OwnerID = "someone-else"
	working.ApplySlideProperties(SlideProperties{SlideID: "s1", Position: 0})
	if err := store.Save(ctx, working); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded, err := store.Load(ctx, "deck-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Version != 2 {
		t.Fatalf("expected version 2, got %d", reloaded.Version)
	}
	if reloaded.OwnerID != "owner-1" {
		t.Fatalf("expected owner unchanged, got %s", reloaded.OwnerID)
	}
	if !reloaded.HasSlide("s1") {
		t.Fatalf("expected saved slide")
	}
}

func TestStoreMissingMaterial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("expected not found on load, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "materials.load.not_found" {
		t.Fatalf("unexpected service error: %v", err)
	}

	if err := store.Save(ctx, Material{ID: "missing"}); !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("expected not found on save, got %v", err)
	}
}

func TestStoreInvitations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Invite(ctx, "deck-1", "user-2"); err != nil {
		t.Fatalf("invite failed: %v", err)
	}
	if err := store.Invite(ctx, "deck-1", "user-2"); err != nil {
		t.Fatalf("repeated invite failed: %v", err)
	}
	invited, err := store.IsAttendee(ctx, "deck-1", "user-2")
	if err != nil || !invited {
		t.Fatalf("expected invitation, got %v %v", invited, err)
	}
	invited, err = store.IsAttendee(ctx, "deck-1", "user-3")
	if err != nil || invited {
		t.Fatalf("did not expect invitation, got %v %v", invited, err)
	}
}
