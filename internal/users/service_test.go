package users

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/podium/internal/auth"
)

func newTestService(t *testing.T, dsn string) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t, "file:users_prefix?mode=memory&cache=shared")
	ctx := context.Background()

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	identity, err := service.Resolve(ctx, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if identity.UserID != "12345" || identity.Provider != "google" {
		t.Fatalf("expected canonical user id without provider prefix, got %+v", identity)
	}
	if identity.PresenceName() != "Example User" {
		t.Fatalf("unexpected presence name %q", identity.PresenceName())
	}

	identity, err = service.Resolve(ctx, claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if identity.UserID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", identity.UserID)
	}
	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single identity record, got %d", count)
	}
}

func TestResolveRefreshesDisplayName(t *testing.T) {
	service, _ := newTestService(t, "file:users_refresh?mode=memory&cache=shared")
	ctx := context.Background()

	if _, err := service.Resolve(ctx, auth.SessionClaims{UserID: "u-1", UserDisplayName: "Old"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	identity, err := service.Resolve(ctx, auth.SessionClaims{UserID: "u-1", UserDisplayName: "New"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if identity.DisplayName != "New" {
		t.Fatalf("expected refreshed display name, got %q", identity.DisplayName)
	}
}

func TestResolveRejectsEmptyClaims(t *testing.T) {
	service, _ := newTestService(t, "file:users_empty?mode=memory&cache=shared")
	if _, err := service.Resolve(context.Background(), auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
}

func TestPresenceNameFallsBackToEmail(t *testing.T) {
	identity := Identity{Email: "someone@example.com"}
	if identity.PresenceName() != "someone@example.com" {
		t.Fatalf("unexpected presence name %q", identity.PresenceName())
	}
}
