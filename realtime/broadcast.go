package realtime

import (
	"github.com/onnwee/chat-lottery/backend/lottery"
)

// participantsUpdate is the full-snapshot push sent after every registry mutation.
type participantsUpdate struct {
	Type         string                `json:"type"`
	Participants []lottery.Participant `json:"participants"`
	Count        int                   `json:"count"`
}

type winnerUpdate struct {
	Type              string              `json:"type"`
	Winner            lottery.Participant `json:"winner"`
	HistoryID         string              `json:"history_id"`
	TotalParticipants int                 `json:"total_participants"`
}

// LotteryBroadcaster adapts the hub to the session's Broadcaster interface.
type LotteryBroadcaster struct {
	Hub *Hub
}

func (b *LotteryBroadcaster) BroadcastParticipants(participants []lottery.Participant, count int) {
	if participants == nil {
		participants = []lottery.Participant{}
	}
	b.Hub.Broadcast(FeatureLottery, participantsUpdate{
		Type:         "update_participants",
		Participants: participants,
		Count:        count,
	})
}

func (b *LotteryBroadcaster) BroadcastDraw(winner lottery.Participant, historyID string, totalParticipants int) {
	b.Hub.Broadcast(FeatureLottery, winnerUpdate{
		Type:              "lottery_winner",
		Winner:            winner,
		HistoryID:         historyID,
		TotalParticipants: totalParticipants,
	})
}
