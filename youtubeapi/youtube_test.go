package youtubeapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/chat-lottery/backend/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockChatServer) *ChatClient {
	t.Helper()
	client, err := New(context.Background(), "test-key",
		option.WithEndpoint(mock.URL),
		option.WithHTTPClient(mock.Client()),
	)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestResolveLiveChatID(t *testing.T) {
	mock := testutil.NewMockChatServer(t)
	mock.MockVideoResponse("vid-1", "chat-abc")

	client := newTestClient(t, mock)
	chatID, err := client.ResolveLiveChatID(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chatID != "chat-abc" {
		t.Fatalf("unexpected chat id %q", chatID)
	}
}

func TestResolveStreamNotFound(t *testing.T) {
	mock := testutil.NewMockChatServer(t)
	mock.MockVideoNotFound()

	client := newTestClient(t, mock)
	_, err := client.ResolveLiveChatID(context.Background(), "nope")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestResolveChatDisabled(t *testing.T) {
	mock := testutil.NewMockChatServer(t)
	mock.MockVideoResponse("vid-1", "")

	client := newTestClient(t, mock)
	_, err := client.ResolveLiveChatID(context.Background(), "vid-1")
	if !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("expected ErrChatDisabled, got %v", err)
	}
}

func TestListMessagesPagination(t *testing.T) {
	mock := testutil.NewMockChatServer(t)
	mock.MockMessagesByToken(map[string][]testutil.ChatItem{
		"": {
			{ID: "m1", Text: "GO", AuthorID: "u1", Author: "alice", Avatar: "http://a/1.png"},
			{ID: "m2", Kind: "superChatEvent", Text: "$5", AuthorID: "u2", Author: "bob"},
		},
		"t1": {
			{ID: "m3", Text: "GO", AuthorID: "u3", Author: "carol"},
		},
	}, map[string]string{"": "t1", "t1": "t2"}, 7000)

	client := newTestClient(t, mock)

	page, err := client.ListMessages(context.Background(), "chat-abc", "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.NextPageToken != "t1" {
		t.Fatalf("expected continuation token t1, got %q", page.NextPageToken)
	}
	if page.SuggestedInterval != 7*time.Second {
		t.Fatalf("expected 7s suggested interval, got %s", page.SuggestedInterval)
	}

	first := page.Messages[0]
	if first.Kind != KindText || first.Text != "GO" || first.AuthorID != "u1" || first.AuthorName != "alice" {
		t.Fatalf("unexpected first message: %+v", first)
	}
	if page.Messages[1].Kind != "superChatEvent" {
		t.Fatalf("non-text kind not carried through: %+v", page.Messages[1])
	}

	page, err = client.ListMessages(context.Background(), "chat-abc", "t1")
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m3" {
		t.Fatalf("unexpected second page: %+v", page.Messages)
	}
	if page.NextPageToken != "t2" {
		t.Fatalf("expected continuation token t2, got %q", page.NextPageToken)
	}
}

func TestListMessagesRateLimited(t *testing.T) {
	mock := testutil.NewMockChatServer(t)
	mock.MockRateLimited()

	client := newTestClient(t, mock)
	_, err := client.ListMessages(context.Background(), "chat-abc", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
