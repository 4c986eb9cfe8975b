package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-lottery/backend/lottery"
	"github.com/onnwee/chat-lottery/backend/realtime"
	"github.com/onnwee/chat-lottery/backend/store"
	"github.com/onnwee/chat-lottery/backend/telemetry"
	"github.com/onnwee/chat-lottery/backend/youtubeapi"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

type fakeChat struct {
	resolveErr error
	messages   []youtubeapi.Message
}

func (f *fakeChat) ResolveLiveChatID(ctx context.Context, videoID string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "chat-" + videoID, nil
}

func (f *fakeChat) ListMessages(ctx context.Context, liveChatID, pageToken string) (*youtubeapi.Page, error) {
	return &youtubeapi.Page{Messages: f.messages, NextPageToken: pageToken}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	commits []store.HistoryEntry
}

func (f *fakeStore) RecordParticipation(ctx context.Context, userID, displayName, avatarURL, videoID string) error {
	return nil
}

func (f *fakeStore) CommitDraw(ctx context.Context, entry store.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, entry)
	return nil
}

func newTestMux(t *testing.T, chat lottery.ChatAPI) (http.Handler, *lottery.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	session := lottery.NewSession(chat, &fakeStore{}, nil, nil)
	t.Cleanup(session.Stop)
	hub := realtime.NewHub()
	go hub.Run(ctx)
	return NewMux(ctx, nil, session, hub, nil), session
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rec
}

func TestMonitorStartValidation(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	rec := postJSON(t, mux, "/monitor/start", map[string]string{"keyword": "GO"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing video_id: expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, mux, "/monitor/start", map[string]string{"video_id": "v1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing keyword: expected 400, got %d", rec.Code)
	}
}

func TestMonitorStartStreamNotFound(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{resolveErr: youtubeapi.ErrStreamNotFound})

	rec := postJSON(t, mux, "/monitor/start", map[string]any{"video_id": "missing", "keyword": "GO"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "stream_not_found" {
		t.Fatalf("unexpected error class: %q", resp["error"])
	}
}

func TestMonitorStartChatDisabledConflict(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{resolveErr: youtubeapi.ErrChatDisabled})

	rec := postJSON(t, mux, "/monitor/start", map[string]any{"video_id": "v1", "keyword": "GO"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMonitorStartAndStatusLifecycle(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	rec := postJSON(t, mux, "/monitor/start", map[string]any{
		"video_id": "v1", "keyword": "GO", "interval_seconds": 60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status map[string]any
	if rec := getJSON(t, mux, "/status", &status); rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	session, ok := status["session"].(map[string]any)
	if !ok {
		t.Fatalf("status missing session object: %v", status)
	}
	if session["state"] != "monitoring" {
		t.Fatalf("expected monitoring state, got %v", session["state"])
	}
	if session["video_id"] != "v1" || session["keyword"] != "GO" {
		t.Fatalf("unexpected session fields: %v", session)
	}
	if status["relay_state"] != "disabled" {
		t.Fatalf("expected relay disabled, got %v", status["relay_state"])
	}

	rec = postJSON(t, mux, "/monitor/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if rec := getJSON(t, mux, "/status", &status); rec.Code != http.StatusOK {
		t.Fatalf("status after stop: %d", rec.Code)
	}
	if status["session"].(map[string]any)["state"] != "stopped" {
		t.Fatalf("expected stopped state, got %v", status)
	}
}

func TestDrawWithEmptyRegistryConflicts(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	rec := postJSON(t, mux, "/draw", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "no_participants" {
		t.Fatalf("unexpected error class: %q", resp["error"])
	}
}

func TestDrawAfterIngestionReturnsWinner(t *testing.T) {
	chat := &fakeChat{messages: []youtubeapi.Message{
		{ID: "m1", Kind: youtubeapi.KindText, Text: "GO", AuthorID: "u1", AuthorName: "alice"},
	}}
	mux, session := newTestMux(t, chat)

	rec := postJSON(t, mux, "/monitor/start", map[string]any{
		"video_id": "v1", "keyword": "GO", "interval_seconds": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && session.Status().Participants == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if session.Status().Participants == 0 {
		t.Fatal("participant never ingested")
	}

	rec = postJSON(t, mux, "/draw", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("draw: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result lottery.DrawResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode draw result: %v", err)
	}
	if result.Winner.UserID != "u1" {
		t.Fatalf("unexpected winner: %+v", result.Winner)
	}
	if result.TotalParticipants != 1 {
		t.Fatalf("unexpected total: %d", result.TotalParticipants)
	}
}

func TestParticipantsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	var resp map[string]any
	rec := getJSON(t, mux, "/participants", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if int(resp["count"].(float64)) != 0 {
		t.Fatalf("expected empty registry, got %v", resp)
	}
}

func TestAnnounceValidation(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	rec := postJSON(t, mux, "/announce", map[string]any{"minutes": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, mux, "/announce", map[string]any{"minutes": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	req := httptest.NewRequest(http.MethodGet, "/monitor/start", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	mux, _ := newTestMux(t, &fakeChat{})

	rec := getJSON(t, mux, "/participants", nil)
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected generated correlation id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/participants", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("expected correlation id passthrough, got %q", got)
	}
}
