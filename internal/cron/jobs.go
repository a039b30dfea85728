package cron

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/strikes"
)

const summaryTop = 10

// MemorySweep drops expired conversation entries for users that have gone
// quiet.
func MemorySweep(m *convo.Memory) JobFunc {
	return func(context.Context) (string, error) {
		n := m.Sweep()
		return fmt.Sprintf("swept %d users", n), nil
	}
}

// StrikeSummary posts the strike leaderboard to dest. Nothing is sent when no
// user has strikes.
func StrikeSummary(l *strikes.Ledger, b *bus.MessageBus, dest bus.Target) JobFunc {
	return func(ctx context.Context) (string, error) {
		text := SummaryText(l.Snapshot())
		if text == "" {
			return "no strikes", nil
		}
		msg := bus.OutboundMessage{Channel: dest.Channel, ChatID: dest.ChatID, Content: text}
		select {
		case b.Outbound <- msg:
			return "summary queued", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// SummaryText formats the top entries of a ledger snapshot.
func SummaryText(entries []strikes.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	total := 0
	for _, e := range entries {
		total += e.Total()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Strike summary: %d users, %d strikes", len(entries), total)
	for i, e := range entries {
		if i == summaryTop {
			fmt.Fprintf(&sb, "\n…and %d more", len(entries)-summaryTop)
			break
		}
		fmt.Fprintf(&sb, "\n• User %s: %d (%d caps, %d words, %d harassment)",
			e.User, e.Total(), e.Caps, e.BadWords, e.Harassment)
	}
	return sb.String()
}
