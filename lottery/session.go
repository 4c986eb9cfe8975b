// Package lottery implements the live-chat lottery core: a polling ingestion
// loop against the platform chat API, a deduplicating participant registry,
// and a uniform-random draw with an auditable commit.
package lottery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-lottery/backend/store"
	"github.com/onnwee/chat-lottery/backend/telemetry"
	"github.com/onnwee/chat-lottery/backend/youtubeapi"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

// ChatAPI is the slice of the upstream chat client the session needs.
type ChatAPI interface {
	ResolveLiveChatID(ctx context.Context, videoID string) (string, error)
	ListMessages(ctx context.Context, liveChatID, pageToken string) (*youtubeapi.Page, error)
}

// ProfileStore persists participation events and draw commits.
type ProfileStore interface {
	RecordParticipation(ctx context.Context, userID, displayName, avatarURL, videoID string) error
	CommitDraw(ctx context.Context, entry store.HistoryEntry) error
}

// Broadcaster pushes state snapshots to connected realtime clients.
// Delivery is best-effort; implementations must not block the caller.
type Broadcaster interface {
	BroadcastParticipants(participants []Participant, count int)
	BroadcastDraw(winner Participant, historyID string, totalParticipants int)
}

// Notifier delivers per-participant notifications through the responder relay.
type Notifier interface {
	ParticipantJoined(ctx context.Context, userID, displayName string)
	WinnerDrawn(ctx context.Context, userID, displayName string)
}

// Status is the operator-facing view of the session.
type Status struct {
	State           State      `json:"state"`
	VideoID         string     `json:"video_id,omitempty"`
	Keyword         string     `json:"keyword,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	Participants    int        `json:"participants"`
	LastError       ErrorClass `json:"last_error,omitempty"`
	StartedAt       time.Time  `json:"started_at,omitzero"`
}

// Session is one bounded monitoring context tied to a single stream and
// keyword. Exactly one is active per process; starting anew tears down the
// previous polling timer before assigning a new one. All mutation of the
// session fields and the registry goes through its methods.
type Session struct {
	chat  ChatAPI
	store ProfileStore
	bcast Broadcaster
	notif Notifier

	registry *Registry

	mu        sync.Mutex
	state     State
	videoID   string
	chatID    string
	keyword   string
	interval  time.Duration
	pageToken string
	lastErr   ErrorClass
	startedAt time.Time
	cancel    context.CancelFunc
}

// NewSession wires a session; bcast and notif may be nil (disabled).
func NewSession(chat ChatAPI, ps ProfileStore, bcast Broadcaster, notif Notifier) *Session {
	return &Session{
		chat:     chat,
		store:    ps,
		bcast:    bcast,
		notif:    notif,
		registry: NewRegistry(),
		state:    StateIdle,
	}
}

// Start validates the stream and begins recurring chat fetches. A stream
// without an active chat room fails fatally before any timer is scheduled.
// The loop's lifetime is bounded by ctx; Stop cancels it explicitly.
func (s *Session) Start(ctx context.Context, videoID, keyword string, interval time.Duration) error {
	if s.chat == nil {
		return fmt.Errorf("chat api not configured")
	}
	if videoID == "" || keyword == "" {
		return fmt.Errorf("videoID and keyword are required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	chatID, err := s.chat.ResolveLiveChatID(ctx, videoID)
	if err != nil {
		s.setLastErr(Classify(err))
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		// Tear down the previous polling timer before assigning a new one.
		s.cancel()
		s.cancel = nil
	}
	s.registry.Reset()
	telemetry.SetParticipants(0)
	s.videoID = videoID
	s.chatID = chatID
	s.keyword = keyword
	s.interval = interval
	s.pageToken = ""
	s.lastErr = ErrorClassNone
	s.startedAt = time.Now().UTC()
	s.state = StateMonitoring
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	telemetry.UpdateSessionGauge(true)
	slog.Info("session monitoring started",
		slog.String("video_id", videoID),
		slog.String("keyword", keyword),
		slog.Duration("interval", interval),
		slog.String("component", "lottery"))

	go s.runLoop(loopCtx)
	return nil
}

// Stop cancels the ingestion timer synchronously. In-flight persistence and
// broadcast tasks started before cancellation are allowed to complete, but no
// new fetch is scheduled.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateStopped
	s.mu.Unlock()
	telemetry.UpdateSessionGauge(false)
	slog.Info("session stopped", slog.String("component", "lottery"))
}

// Status reports the current lifecycle state and last error class.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:           s.state,
		VideoID:         s.videoID,
		Keyword:         s.keyword,
		IntervalSeconds: int(s.interval / time.Second),
		Participants:    s.registry.Size(),
		LastError:       s.lastErr,
		StartedAt:       s.startedAt,
	}
}

// Participants returns the current registry snapshot in join order.
func (s *Session) Participants() []Participant { return s.registry.Snapshot() }

// Draw selects one winner uniformly at random over the current registry
// snapshot and commits one immutable history entry, the winner's win-count
// bump, and the winner flag on their latest participation row as a single
// unit. On commit failure no winner state is applied.
func (s *Session) Draw(ctx context.Context, mode string, durationMinutes int) (*DrawResult, error) {
	snapshot := s.registry.Snapshot()
	winner, err := pickWinner(snapshot)
	if err != nil {
		s.setLastErr(Classify(err))
		return nil, err
	}

	s.mu.Lock()
	videoID, keyword := s.videoID, s.keyword
	s.mu.Unlock()

	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal participant snapshot: %w", err)
	}

	entry := store.HistoryEntry{
		ID:                   uuid.New().String(),
		VideoID:              videoID,
		Keyword:              keyword,
		WinnerUserID:         winner.UserID,
		WinnerDisplayName:    winner.DisplayName,
		TotalParticipants:    len(snapshot),
		DurationMinutes:      durationMinutes,
		PresentationMode:     mode,
		ParticipantsSnapshot: snapJSON,
		DrawnAt:              time.Now().UTC(),
	}

	var commitErr error
	telemetry.TimeFunc(telemetry.DrawDuration, func() {
		commitErr = s.store.CommitDraw(ctx, entry)
	})
	if commitErr != nil {
		s.setLastErr(ErrorClassStoreWrite)
		return nil, fmt.Errorf("commit draw: %w", commitErr)
	}
	if telemetry.DrawsTotal != nil {
		telemetry.DrawsTotal.Inc()
	}

	slog.Info("draw committed",
		slog.String("history_id", entry.ID),
		slog.String("winner", winner.DisplayName),
		slog.Int("total_participants", len(snapshot)),
		slog.String("component", "lottery"))

	if s.bcast != nil {
		s.bcast.BroadcastDraw(winner, entry.ID, len(snapshot))
	}
	if s.notif != nil {
		go s.notif.WinnerDrawn(context.WithoutCancel(ctx), winner.UserID, winner.DisplayName)
	}

	return &DrawResult{Winner: winner, HistoryID: entry.ID, TotalParticipants: len(snapshot)}, nil
}

// runLoop drives the recurring fetches. The wait before each fetch is
// max(configured, platform-suggested) in Monitoring, and twice the configured
// interval after a rate-limit signal, after which the session returns to
// Monitoring.
func (s *Session) runLoop(ctx context.Context) {
	s.mu.Lock()
	wait := s.interval
	s.mu.Unlock()

	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		wait = s.pollOnce(ctx)
	}
}

// pollOnce performs one fetch tick and returns the wait before the next one.
// Errors are contained per tick; one failed fetch never crashes the loop.
func (s *Session) pollOnce(ctx context.Context) time.Duration {
	s.mu.Lock()
	if s.state == StateBackoff {
		// Backoff elapsed; resume normal monitoring.
		s.state = StateMonitoring
	}
	chatID := s.chatID
	token := s.pageToken
	keyword := s.keyword
	videoID := s.videoID
	configured := s.interval
	s.mu.Unlock()

	if telemetry.PollsTotal != nil {
		telemetry.PollsTotal.Inc()
	}

	var page *youtubeapi.Page
	var err error
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		page, err = s.chat.ListMessages(ctx, chatID, token)
	})
	if err != nil {
		if ctx.Err() != nil {
			return configured
		}
		if telemetry.PollErrors != nil {
			telemetry.PollErrors.Inc()
		}
		cls := Classify(err)
		s.setLastErr(cls)
		if cls == ErrorClassRateLimited {
			if telemetry.BackoffsEntered != nil {
				telemetry.BackoffsEntered.Inc()
			}
			s.setState(StateBackoff)
			slog.Warn("rate limited; backing off",
				slog.Duration("wait", 2*configured),
				slog.String("component", "lottery"))
			return 2 * configured
		}
		slog.Warn("chat poll failed", slog.Any("err", err), slog.String("component", "lottery"))
		return configured
	}

	if ctx.Err() != nil {
		// The session was stopped or rebound while the fetch was in
		// flight; the page belongs to the torn-down session. Drop it
		// so its token and matches never leak into a successor.
		return configured
	}

	s.mu.Lock()
	s.pageToken = page.NextPageToken
	s.lastErr = ErrorClassNone
	s.mu.Unlock()

	s.processMessages(ctx, page.Messages, keyword, videoID)

	wait := configured
	if page.SuggestedInterval > wait {
		wait = page.SuggestedInterval
	}
	return wait
}

// processMessages converts inbound messages into at most one new participant
// each. The dedup check completes synchronously before any asynchronous side
// effect is scheduled; persistence and notification run as independent tasks
// that never block the next tick.
func (s *Session) processMessages(ctx context.Context, msgs []youtubeapi.Message, keyword, videoID string) {
	// Side effects outlive a Stop issued mid-flight.
	bg := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		if !Qualifies(msg, keyword) {
			continue
		}
		p := Participant{
			UserID:      msg.AuthorID,
			DisplayName: msg.AuthorName,
			AvatarURL:   msg.AuthorAvatar,
			JoinedAt:    time.Now().UTC(),
		}
		if p.UserID == "" || !s.registry.Add(p) {
			continue
		}
		telemetry.SetParticipants(s.registry.Size())
		slog.Debug("participant joined",
			slog.String("user_id", p.UserID),
			slog.String("display_name", p.DisplayName),
			slog.String("component", "lottery"))

		go func(p Participant) {
			if err := s.store.RecordParticipation(bg, p.UserID, p.DisplayName, p.AvatarURL, videoID); err != nil {
				// A missed profile update does not stop the loop.
				if telemetry.ProfileWriteErrors != nil {
					telemetry.ProfileWriteErrors.Inc()
				}
				s.setLastErr(ErrorClassStoreWrite)
				slog.Error("participation persist failed",
					slog.String("user_id", p.UserID),
					slog.Any("err", err),
					slog.String("component", "lottery"))
				return
			}
			if telemetry.ParticipationsRecorded != nil {
				telemetry.ParticipationsRecorded.Inc()
			}
		}(p)

		if s.notif != nil {
			go s.notif.ParticipantJoined(bg, p.UserID, p.DisplayName)
		}
		if s.bcast != nil {
			s.bcast.BroadcastParticipants(s.registry.Snapshot(), s.registry.Size())
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setLastErr(cls ErrorClass) {
	s.mu.Lock()
	s.lastErr = cls
	s.mu.Unlock()
}
