package relay

import (
	"context"
	"log/slog"

	"github.com/onnwee/chat-lottery/backend/lottery"
)

// LotteryNotifier bridges lottery events to relay notifications.
type LotteryNotifier struct {
	relay   *Relay
	keyword func() string
}

func NewLotteryNotifier(r *Relay, keyword func() string) *LotteryNotifier {
	return &LotteryNotifier{relay: r, keyword: keyword}
}

var _ lottery.Notifier = (*LotteryNotifier)(nil)

func (n *LotteryNotifier) ParticipantJoined(ctx context.Context, userID, displayName string) {
	err := n.relay.Send(ctx, userID, KindJoin, Vars{UserName: displayName})
	if err != nil {
		slog.Warn("join notification failed",
			slog.String("user_id", userID),
			slog.Any("err", err),
			slog.String("component", "relay"))
	}
}

func (n *LotteryNotifier) WinnerDrawn(ctx context.Context, userID, displayName string) {
	vars := Vars{UserName: displayName}
	if n.keyword != nil {
		vars.Keyword = n.keyword()
	}
	err := n.relay.Send(ctx, userID, KindWinner, vars)
	if err != nil {
		slog.Warn("winner notification failed",
			slog.String("user_id", userID),
			slog.Any("err", err),
			slog.String("component", "relay"))
	}
}
