package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockChatServer mocks the upstream live chat API endpoints used by the
// ingestion loop. Point a youtubeapi.ChatClient at it with option.WithEndpoint.
type MockChatServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockChatServer creates a new mock chat API server.
func NewMockChatServer(t *testing.T) *MockChatServer {
	t.Helper()
	m := &MockChatServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The generated API client prefixes paths with its version segment;
		// match on suffix so handlers can register the bare resource path.
		for key, handler := range m.Handlers {
			if strings.HasSuffix(r.URL.Path, key) {
				handler(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockVideoResponse registers a /videos handler advertising a live video with
// the given active chat id. An empty chatID simulates a stream without chat.
func (m *MockChatServer) MockVideoResponse(videoID, chatID string) {
	m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
		item := map[string]interface{}{
			"id": videoID,
			"liveStreamingDetails": map[string]interface{}{
				"activeLiveChatId": chatID,
			},
		}
		response := map[string]interface{}{
			"items": []interface{}{item},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockVideoNotFound registers a /videos handler returning an empty item list.
func (m *MockChatServer) MockVideoNotFound() {
	m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}}) //nolint:errcheck // test mock response
	}
}

// ChatItem is a convenience shape for MockMessagesByToken.
type ChatItem struct {
	ID       string
	Kind     string
	Text     string
	AuthorID string
	Author   string
	Avatar   string
}

// MockMessagesByToken registers a /liveChat/messages handler that serves a
// fixed page per pageToken (empty token key for the first fetch). Each page
// advances to nextToken[token].
func (m *MockChatServer) MockMessagesByToken(pages map[string][]ChatItem, nextToken map[string]string, pollingMillis int64) {
	m.Handlers["/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		items := make([]interface{}, 0)
		for _, it := range pages[token] {
			kind := it.Kind
			if kind == "" {
				kind = "textMessageEvent"
			}
			items = append(items, map[string]interface{}{
				"id": it.ID,
				"snippet": map[string]interface{}{
					"type":               kind,
					"displayMessage":     it.Text,
					"textMessageDetails": map[string]interface{}{"messageText": it.Text},
				},
				"authorDetails": map[string]interface{}{
					"channelId":       it.AuthorID,
					"displayName":     it.Author,
					"profileImageUrl": it.Avatar,
				},
			})
		}
		response := map[string]interface{}{
			"items":                 items,
			"nextPageToken":         nextToken[token],
			"pollingIntervalMillis": pollingMillis,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockRateLimited registers a /liveChat/messages handler that rejects every
// fetch with the platform's 403 quota error shape.
func (m *MockChatServer) MockRateLimited() {
	m.Handlers["/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"error": map[string]interface{}{
				"code":    403,
				"message": "quotaExceeded",
			},
		})
	}
}
