package lottery

import (
	"errors"

	"github.com/onnwee/chat-lottery/backend/youtubeapi"
)

// ErrNoParticipants is returned by Draw when the registry is empty.
var ErrNoParticipants = errors.New("no participants")

// ErrorClass is the coarse error category surfaced to the operator on /status.
type ErrorClass string

const (
	ErrorClassNone           ErrorClass = ""
	ErrorClassStreamNotFound ErrorClass = "stream_not_found"
	ErrorClassChatDisabled   ErrorClass = "chat_disabled"
	ErrorClassRateLimited    ErrorClass = "rate_limited"
	ErrorClassNoParticipants ErrorClass = "no_participants"
	ErrorClassStoreWrite     ErrorClass = "store_write"
	ErrorClassFetch          ErrorClass = "fetch_failed"
)

// Classify maps an error onto its operator-facing class. Fetch failures that
// are not part of the known taxonomy are reported as fetch_failed; they are
// contained per tick and never crash the loop.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, youtubeapi.ErrStreamNotFound):
		return ErrorClassStreamNotFound
	case errors.Is(err, youtubeapi.ErrChatDisabled):
		return ErrorClassChatDisabled
	case errors.Is(err, youtubeapi.ErrRateLimited):
		return ErrorClassRateLimited
	case errors.Is(err, ErrNoParticipants):
		return ErrorClassNoParticipants
	default:
		return ErrorClassFetch
	}
}
