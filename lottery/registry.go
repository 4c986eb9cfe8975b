package lottery

import (
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chat-lottery/backend/youtubeapi"
)

// Participant is one session-scoped entry, unique by user id. Once present it
// is never removed except by a session reset.
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Registry deduplicates participants by stable user identifier. The dedup
// check is synchronous; callers schedule side effects only after Add reports
// a genuinely new entry, which keeps the one-entry-per-identity invariant
// intact under concurrent in-flight persistence.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Participant
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Participant)}
}

// Qualifies reports whether a message is a qualifying participation event:
// plain text kind and the exact keyword substring (case-sensitive, no
// normalization).
func Qualifies(msg youtubeapi.Message, keyword string) bool {
	if msg.Kind != youtubeapi.KindText {
		return false
	}
	if keyword == "" {
		return false
	}
	return strings.Contains(msg.Text, keyword)
}

// Add inserts a participant if the identity is not yet present and reports
// whether it was inserted. A repeat identity is a no-op.
func (r *Registry) Add(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[p.UserID]; ok {
		return false
	}
	r.entries[p.UserID] = p
	r.order = append(r.order, p.UserID)
	return true
}

// Size returns the current participant count.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns participants in join order. The slice is a copy; callers
// may hold it across draws and broadcasts without racing the registry.
func (r *Registry) Snapshot() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Reset clears all entries. Only a session reset may remove participants.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Participant)
	r.order = nil
}
