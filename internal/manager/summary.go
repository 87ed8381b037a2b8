package manager

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/explain"
)

const (
	historyLen       = 5
	defaultCountdown = 120
	minCountdown     = 30
	maxCountdown     = 600
)

func currentState(chrono []action.Action, now float64) *CurrentState {
	if len(chrono) == 0 {
		return &CurrentState{App: "Unknown", Context: "Unknown"}
	}
	last := chrono[len(chrono)-1]
	var minutes float64
	if len(chrono) > 1 {
		minutes = math.Round((now-chrono[0].Timestamp)/60*10) / 10
	}
	return &CurrentState{
		App:             orUnknown(last.Source),
		DurationMinutes: minutes,
		Context:         orUnknown(last.ActionType),
	}
}

func recentHistory(chrono []action.Action, now float64) []explain.HistoryEntry {
	tail := chrono[max(0, len(chrono)-historyLen):]
	out := make([]explain.HistoryEntry, len(tail))
	for i, a := range tail {
		out[i] = explain.HistoryEntry{
			Action:  orUnknown(a.ActionType),
			Source:  orUnknown(a.Source),
			TimeAgo: timeAgo(now - a.Timestamp),
		}
	}
	return out
}

func timeAgo(seconds float64) string {
	seconds = math.Max(seconds, 0)
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", int(seconds))
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", int(seconds/60))
	default:
		return fmt.Sprintf("%dh ago", int(seconds/3600))
	}
}

// meanInterval is the average gap between consecutive actions.
func meanInterval(chrono []action.Action) (float64, bool) {
	if len(chrono) < 2 {
		return 0, false
	}
	span := chrono[len(chrono)-1].Timestamp - chrono[0].Timestamp
	return span / float64(len(chrono)-1), true
}

func timeEstimate(chrono []action.Action) string {
	avg, ok := meanInterval(chrono)
	switch {
	case !ok:
		return "soon"
	case avg < 30:
		return "very soon"
	case avg < 120:
		return "in 1-3 minutes"
	case avg < 300:
		return "in 3-5 minutes"
	default:
		return "in 5-10 minutes"
	}
}

func countdownSeconds(chrono []action.Action) int {
	avg, ok := meanInterval(chrono)
	if !ok {
		return defaultCountdown
	}
	return int(math.Min(math.Max(avg, minCountdown), maxCountdown))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
