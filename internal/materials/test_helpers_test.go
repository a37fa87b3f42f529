package materials

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&MaterialRecord{}, &AttendeeRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustBlock(t *testing.T, raw string) Block {
	t.Helper()
	block, err := NewBlock(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("unexpected block error: %v", err)
	}
	return block
}
