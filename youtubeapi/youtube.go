// Package youtubeapi wraps the YouTube Data API live chat endpoints for the
// single purpose of polling live chat messages. It resolves a video's active
// chat room and pages through messages with the platform's continuation token,
// mapping API failures onto the error taxonomy the ingestion loop acts on.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

var (
	// ErrStreamNotFound means the video does not exist or is not live. Fatal for session start.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrChatDisabled means the video exists but carries no active live chat. Fatal for session start.
	ErrChatDisabled = errors.New("chat disabled for stream")
	// ErrRateLimited means the platform rejected the fetch for quota reasons. Recoverable via backoff.
	ErrRateLimited = errors.New("chat api rate limited")
)

// Message is one normalized chat item. Kind mirrors the platform's event type;
// only text messages qualify for the lottery, other kinds are carried through
// so the registry can reject them explicitly.
type Message struct {
	ID           string
	Kind         string
	Text         string
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	PublishedAt  time.Time
}

// KindText is the platform's plain text chat event type.
const KindText = "textMessageEvent"

// Page is one fetch result: items, the continuation token for the next fetch,
// and the platform-suggested minimum wait before that fetch.
type Page struct {
	Messages          []Message
	NextPageToken     string
	SuggestedInterval time.Duration
}

// ChatClient provides the minimal live chat surface the ingestion loop needs.
type ChatClient struct {
	svc *yt.Service
}

// New builds a chat client authenticated with an API key. Extra options
// (custom endpoint, http client) are applied after the key, which lets tests
// point the client at a local mock server.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*ChatClient, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &ChatClient{svc: svc}, nil
}

// ResolveLiveChatID validates that the video exists and has an active live
// chat, returning the chat room identifier.
func (c *ChatClient) ResolveLiveChatID(ctx context.Context, videoID string) (string, error) {
	resp, err := c.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", mapAPIError(err)
	}
	if len(resp.Items) == 0 {
		return "", ErrStreamNotFound
	}
	det := resp.Items[0].LiveStreamingDetails
	if det == nil || det.ActiveLiveChatId == "" {
		return "", ErrChatDisabled
	}
	return det.ActiveLiveChatId, nil
}

// ListMessages fetches one page of chat messages. pageToken is empty on the
// first call; subsequent calls must supply the token from the previous page so
// no message is fetched twice.
func (c *ChatClient) ListMessages(ctx context.Context, liveChatID, pageToken string) (*Page, error) {
	call := c.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, mapAPIError(err)
	}

	page := &Page{
		NextPageToken:     resp.NextPageToken,
		SuggestedInterval: time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
		Messages:          make([]Message, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		if item.Snippet == nil {
			continue
		}
		m := Message{
			ID:   item.Id,
			Kind: item.Snippet.Type,
		}
		if item.Snippet.TextMessageDetails != nil {
			m.Text = item.Snippet.TextMessageDetails.MessageText
		} else {
			m.Text = item.Snippet.DisplayMessage
		}
		if item.AuthorDetails != nil {
			m.AuthorID = item.AuthorDetails.ChannelId
			m.AuthorName = item.AuthorDetails.DisplayName
			m.AuthorAvatar = item.AuthorDetails.ProfileImageUrl
		}
		if item.Snippet.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				m.PublishedAt = t.UTC()
			}
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

// mapAPIError translates googleapi failures onto the session error taxonomy.
// 403 covers the platform's quota/rate signals; 429 is mapped the same way.
func mapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 403, 429:
			return fmt.Errorf("%w: %s", ErrRateLimited, gerr.Message)
		case 404:
			return fmt.Errorf("%w: %s", ErrStreamNotFound, gerr.Message)
		}
	}
	return err
}
