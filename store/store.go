// Package store persists longitudinal engagement state: per-user aggregate
// profiles, append-only participation records, and immutable draw history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UserProfile is the cross-session aggregate row for one chat user.
type UserProfile struct {
	UserID               string    `json:"user_id"`
	DisplayName          string    `json:"display_name"`
	AvatarURL            string    `json:"avatar_url"`
	ParticipationCount   int       `json:"participation_count"`
	FirstParticipationAt time.Time `json:"first_participation_at"`
	LastParticipationAt  time.Time `json:"last_participation_at"`
	FrequencyScore       float64   `json:"frequency_score"`
	TotalWins            int       `json:"total_wins"`
}

// HistoryEntry is one committed draw, immutable after insert.
type HistoryEntry struct {
	ID                   string          `json:"id"`
	VideoID              string          `json:"video_id"`
	Keyword              string          `json:"keyword"`
	WinnerUserID         string          `json:"winner_user_id"`
	WinnerDisplayName    string          `json:"winner_display_name"`
	TotalParticipants    int             `json:"total_participants"`
	DurationMinutes      int             `json:"duration_minutes"`
	PresentationMode     string          `json:"presentation_mode"`
	ParticipantsSnapshot json.RawMessage `json:"participants_snapshot"`
	DrawnAt              time.Time       `json:"drawn_at"`
}

// Store provides typed access to the lottery tables.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

// FrequencyScore computes the participation-frequency score, clamped to [0, 5]:
// min(5, count / max(1, daysSinceFirst) * 10).
func FrequencyScore(count int, first, now time.Time) float64 {
	days := int(now.Sub(first).Hours() / 24)
	if days < 1 {
		days = 1
	}
	score := float64(count) / float64(days) * 10
	if score > 5 {
		return 5
	}
	if score < 0 {
		return 0
	}
	return score
}

// RecordParticipation translates one participation event into persisted state.
// It creates the profile on first-ever participation, otherwise increments the
// aggregate and recomputes the frequency score, and always appends one
// participation record. Safe to call concurrently for different identities;
// the registry's dedup makes same-identity duplicates unreachable in a session.
func (s *Store) RecordParticipation(ctx context.Context, userID, displayName, avatarURL, videoID string) error {
	now := time.Now().UTC()

	var count int
	var first time.Time
	err := s.DB.QueryRowContext(ctx,
		`SELECT participation_count, first_participation_at FROM user_profiles WHERE user_id=$1`,
		userID).Scan(&count, &first)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.DB.ExecContext(ctx,
			`INSERT INTO user_profiles (user_id, display_name, avatar_url, participation_count,
				first_participation_at, last_participation_at, frequency_score, total_wins, updated_at)
			 VALUES ($1,$2,$3,1,$4,$4,$5,0,NOW())`,
			userID, displayName, avatarURL, now, FrequencyScore(1, now, now))
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read profile: %w", err)
	default:
		count++
		_, err = s.DB.ExecContext(ctx,
			`UPDATE user_profiles SET display_name=$1, avatar_url=$2, participation_count=$3,
				last_participation_at=$4, frequency_score=$5, updated_at=NOW()
			 WHERE user_id=$6`,
			displayName, avatarURL, count, now, FrequencyScore(count, first, now), userID)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO participation_records (user_id, video_id, participated_at, is_winner)
		 VALUES ($1,$2,$3,FALSE)`,
		userID, videoID, now)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

// CommitDraw persists one draw as a single logical unit: the history row, the
// winner's win-count bump, and the winner flag on their most recent unflagged
// participation record for this stream. If any step fails nothing is applied.
func (s *Store) CommitDraw(ctx context.Context, entry HistoryEntry) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin draw tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lottery_history (id, video_id, keyword, winner_user_id, winner_display_name,
			total_participants, duration_minutes, presentation_mode, participants_snapshot, drawn_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID, entry.VideoID, entry.Keyword, entry.WinnerUserID, entry.WinnerDisplayName,
		entry.TotalParticipants, entry.DurationMinutes, entry.PresentationMode,
		[]byte(entry.ParticipantsSnapshot), entry.DrawnAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE user_profiles SET total_wins=total_wins+1, updated_at=NOW() WHERE user_id=$1`,
		entry.WinnerUserID)
	if err != nil {
		return fmt.Errorf("bump wins: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE participation_records SET is_winner=TRUE, lottery_history_id=$1
		 WHERE id = (SELECT id FROM participation_records
					 WHERE user_id=$2 AND video_id=$3 AND is_winner=FALSE
					 ORDER BY participated_at DESC LIMIT 1)`,
		entry.ID, entry.WinnerUserID, entry.VideoID)
	if err != nil {
		return fmt.Errorf("flag participation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit draw tx: %w", err)
	}
	return nil
}

// GetProfile returns the aggregate profile for a user, or nil when absent.
func (s *Store) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var p UserProfile
	var avatar sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, display_name, COALESCE(avatar_url,''), participation_count,
			first_participation_at, last_participation_at, frequency_score, total_wins
		 FROM user_profiles WHERE user_id=$1`, userID).
		Scan(&p.UserID, &p.DisplayName, &avatar, &p.ParticipationCount,
			&p.FirstParticipationAt, &p.LastParticipationAt, &p.FrequencyScore, &p.TotalWins)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.AvatarURL = avatar.String
	return &p, nil
}

// TopProfiles lists profiles ordered by participation count for the leaderboard view.
func (s *Store) TopProfiles(ctx context.Context, limit int) ([]UserProfile, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, display_name, COALESCE(avatar_url,''), participation_count,
			first_participation_at, last_participation_at, frequency_score, total_wins
		 FROM user_profiles ORDER BY participation_count DESC, total_wins DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]UserProfile, 0, limit)
	for rows.Next() {
		var p UserProfile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.ParticipationCount,
			&p.FirstParticipationAt, &p.LastParticipationAt, &p.FrequencyScore, &p.TotalWins); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListHistory returns recent draws, newest first. videoID filters to one stream when non-empty.
func (s *Store) ListHistory(ctx context.Context, videoID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if videoID != "" {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, video_id, keyword, winner_user_id, winner_display_name, total_participants,
				duration_minutes, presentation_mode, participants_snapshot, drawn_at
			 FROM lottery_history WHERE video_id=$1 ORDER BY drawn_at DESC LIMIT $2`, videoID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, video_id, keyword, winner_user_id, winner_display_name, total_participants,
				duration_minutes, presentation_mode, participants_snapshot, drawn_at
			 FROM lottery_history ORDER BY drawn_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var snapshot []byte
		if err := rows.Scan(&e.ID, &e.VideoID, &e.Keyword, &e.WinnerUserID, &e.WinnerDisplayName,
			&e.TotalParticipants, &e.DurationMinutes, &e.PresentationMode, &snapshot, &e.DrawnAt); err != nil {
			return nil, err
		}
		e.ParticipantsSnapshot = json.RawMessage(snapshot)
		out = append(out, e)
	}
	return out, rows.Err()
}
