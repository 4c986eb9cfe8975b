package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-lottery/backend/testutil"
)

func TestFrequencyScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		count int
		first time.Time
		want  float64
	}{
		{"first ever participation", 1, now, 5},
		{"same day repeat", 3, now.Add(-2 * time.Hour), 5},
		{"one per day over ten days", 10, now.AddDate(0, 0, -10), 5},
		{"sparse participant", 2, now.AddDate(0, 0, -100), 0.2},
		{"single old participation", 1, now.AddDate(0, 0, -50), 0.2},
		{"zero count", 0, now.AddDate(0, 0, -5), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FrequencyScore(tc.count, tc.first, now)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("FrequencyScore(%d, %s ago) = %v, want %v",
					tc.count, now.Sub(tc.first), got, tc.want)
			}
		})
	}
}

func TestFrequencyScoreClamped(t *testing.T) {
	now := time.Now().UTC()
	if got := FrequencyScore(1000, now.AddDate(0, 0, -1), now); got != 5 {
		t.Fatalf("expected clamp at 5, got %v", got)
	}
}

func TestRecordParticipationLifecycle(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := New(database)
	ctx := context.Background()
	userID := "store-test-" + uuid.NewString()

	if err := s.RecordParticipation(ctx, userID, "alice", "http://a/1.png", "vid-1"); err != nil {
		t.Fatalf("first participation: %v", err)
	}
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p == nil {
		t.Fatal("profile not created")
	}
	if p.ParticipationCount != 1 || p.TotalWins != 0 {
		t.Fatalf("unexpected new profile: %+v", p)
	}
	if p.FrequencyScore != 5 {
		t.Fatalf("first participation should score 5, got %v", p.FrequencyScore)
	}

	if err := s.RecordParticipation(ctx, userID, "alice2", "", "vid-2"); err != nil {
		t.Fatalf("second participation: %v", err)
	}
	p, err = s.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.ParticipationCount != 2 {
		t.Fatalf("expected count 2, got %d", p.ParticipationCount)
	}
	if p.DisplayName != "alice2" {
		t.Fatalf("display name not refreshed: %q", p.DisplayName)
	}
}

func TestGetProfileAbsent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := New(database)

	p, err := s.GetProfile(context.Background(), "never-seen-"+uuid.NewString())
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil profile, got %+v", p)
	}
}

func TestCommitDrawAtomicity(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := New(database)
	ctx := context.Background()

	userID := "draw-test-" + uuid.NewString()
	videoID := "vid-" + uuid.NewString()
	if err := s.RecordParticipation(ctx, userID, "bob", "", videoID); err != nil {
		t.Fatalf("record: %v", err)
	}

	snapshot, _ := json.Marshal([]map[string]string{{"user_id": userID}})
	entry := HistoryEntry{
		ID:                   uuid.NewString(),
		VideoID:              videoID,
		Keyword:              "GO",
		WinnerUserID:         userID,
		WinnerDisplayName:    "bob",
		TotalParticipants:    1,
		PresentationMode:     "instant",
		ParticipantsSnapshot: snapshot,
		DrawnAt:              time.Now().UTC(),
	}
	if err := s.CommitDraw(ctx, entry); err != nil {
		t.Fatalf("commit draw: %v", err)
	}

	p, err := s.GetProfile(ctx, userID)
	if err != nil || p == nil {
		t.Fatalf("get profile after draw: %v, %v", p, err)
	}
	if p.TotalWins != 1 {
		t.Fatalf("expected 1 win, got %d", p.TotalWins)
	}

	var isWinner bool
	var historyID string
	err = database.QueryRowContext(ctx,
		`SELECT is_winner, COALESCE(lottery_history_id,'') FROM participation_records
		 WHERE user_id=$1 AND video_id=$2`, userID, videoID).Scan(&isWinner, &historyID)
	if err != nil {
		t.Fatalf("read participation: %v", err)
	}
	if !isWinner || historyID != entry.ID {
		t.Fatalf("participation not flagged: winner=%v history=%q", isWinner, historyID)
	}

	history, err := s.ListHistory(ctx, videoID, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].ID != entry.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].WinnerUserID != userID || history[0].Keyword != "GO" {
		t.Fatalf("history fields wrong: %+v", history[0])
	}
}

func TestCommitDrawDuplicateIDFailsCleanly(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := New(database)
	ctx := context.Background()

	userID := "dup-test-" + uuid.NewString()
	videoID := "vid-" + uuid.NewString()
	if err := s.RecordParticipation(ctx, userID, "carol", "", videoID); err != nil {
		t.Fatalf("record: %v", err)
	}

	entry := HistoryEntry{
		ID:                   uuid.NewString(),
		VideoID:              videoID,
		Keyword:              "GO",
		WinnerUserID:         userID,
		WinnerDisplayName:    "carol",
		TotalParticipants:    1,
		PresentationMode:     "instant",
		ParticipantsSnapshot: json.RawMessage(`[]`),
		DrawnAt:              time.Now().UTC(),
	}
	if err := s.CommitDraw(ctx, entry); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	winsBefore := profileWins(t, s, userID)

	// Re-inserting the same history id violates the primary key; the whole
	// transaction must roll back with no second win applied.
	if err := s.CommitDraw(ctx, entry); err == nil {
		t.Fatal("expected duplicate commit to fail")
	}
	if got := profileWins(t, s, userID); got != winsBefore {
		t.Fatalf("failed commit changed wins: %d -> %d", winsBefore, got)
	}
}

func TestTopProfilesOrdering(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := New(database)
	ctx := context.Background()

	prefix := uuid.NewString()
	heavy := fmt.Sprintf("top-%s-heavy", prefix)
	light := fmt.Sprintf("top-%s-light", prefix)
	for i := 0; i < 3; i++ {
		if err := s.RecordParticipation(ctx, heavy, "heavy", "", "vid-x"); err != nil {
			t.Fatalf("record heavy: %v", err)
		}
	}
	if err := s.RecordParticipation(ctx, light, "light", "", "vid-x"); err != nil {
		t.Fatalf("record light: %v", err)
	}

	profiles, err := s.TopProfiles(ctx, 500)
	if err != nil {
		t.Fatalf("top profiles: %v", err)
	}
	heavyIdx, lightIdx := -1, -1
	for i, p := range profiles {
		switch p.UserID {
		case heavy:
			heavyIdx = i
		case light:
			lightIdx = i
		}
	}
	if heavyIdx == -1 || lightIdx == -1 {
		t.Fatal("test profiles missing from leaderboard")
	}
	if heavyIdx > lightIdx {
		t.Fatalf("leaderboard not ordered by participation count: heavy=%d light=%d", heavyIdx, lightIdx)
	}
}

func profileWins(t *testing.T, s *Store, userID string) int {
	t.Helper()
	p, err := s.GetProfile(context.Background(), userID)
	if err != nil || p == nil {
		t.Fatalf("get profile: %v, %v", p, err)
	}
	return p.TotalWins
}
