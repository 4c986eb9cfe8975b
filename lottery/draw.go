package lottery

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
)

// DrawResult is the outcome of one committed draw.
type DrawResult struct {
	Winner            Participant `json:"winner"`
	HistoryID         string      `json:"history_id"`
	TotalParticipants int         `json:"total_participants"`
}

// drawRandomInt is swappable in tests for deterministic winner selection.
var drawRandomInt = secureRandomInt

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("invalid random bound %d", max)
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(n.Int64()), nil
}

// pickWinner selects one participant uniformly at random from the snapshot.
// Every entry has equal probability; repeat winners across draws within one
// session are allowed, no exclusion is applied.
func pickWinner(snapshot []Participant) (Participant, error) {
	if len(snapshot) == 0 {
		return Participant{}, ErrNoParticipants
	}
	idx, err := drawRandomInt(len(snapshot))
	if err != nil {
		return Participant{}, err
	}
	return snapshot[idx], nil
}
