package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-lottery/backend/db"
	"github.com/onnwee/chat-lottery/backend/testutil"
)

func TestMigrateIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	// SetupTestDB already migrated once; a second run must be a no-op.
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	v, err := db.GetKV(ctx, database, key)
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty value for absent key, got %q", v)
	}

	if err := db.SetKV(ctx, database, key, "one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ = db.GetKV(ctx, database, key); v != "one" {
		t.Fatalf("expected one, got %q", v)
	}

	if err := db.SetKV(ctx, database, key, "two"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ = db.GetKV(ctx, database, key); v != "two" {
		t.Fatalf("expected two, got %q", v)
	}
}

func TestTouchKVUpdatesTimestamp(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	key := "touch:" + uuid.NewString()

	before, err := db.LastKVUpdate(ctx, database, key)
	if err != nil {
		t.Fatalf("last update absent: %v", err)
	}
	if !before.IsZero() {
		t.Fatalf("expected zero time for absent key, got %s", before)
	}

	if err := db.TouchKV(ctx, database, key); err != nil {
		t.Fatalf("touch: %v", err)
	}
	first, err := db.LastKVUpdate(ctx, database, key)
	if err != nil || first.IsZero() {
		t.Fatalf("expected timestamp after touch: %s, %v", first, err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := db.TouchKV(ctx, database, key); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	second, err := db.LastKVUpdate(ctx, database, key)
	if err != nil {
		t.Fatalf("last update: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("timestamp did not advance: %s -> %s", first, second)
	}
}
