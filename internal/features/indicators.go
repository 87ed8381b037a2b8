package features

import (
	"strings"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
)

// #region indicators
// StuckThreshold is the idle time in seconds after which a user counts as stuck.
const StuckThreshold = 300.0

// StuckIndicator returns 1 when idle for longer than StuckThreshold, else 0.
func StuckIndicator(idleSeconds float64) float32 {
	if idleSeconds > StuckThreshold {
		return 1
	}
	return 0
}

// FocusScore grows linearly with time spent in the current context, saturating at one hour.
func FocusScore(timeInContextSeconds float64) float32 {
	return float32(clamp01(timeInContextSeconds / maxTimeInContext))
}

// EnergyScore maps actions in the last five minutes to [0,1]; twenty actions
// per minute counts as full energy.
func EnergyScore(actionsLast5m int) float32 {
	return float32(clamp01(float64(actionsLast5m) / 5 / 20))
}

var productivityBase = map[string]float64{
	"file_edit":  0.9,
	"file_save":  0.8,
	"git_commit": 0.95,
	"test_run":   0.85,
	"search":     0.6,
	"tab_visit":  0.4,
	"scroll":     0.2,
	"mouse_move": 0.1,
}

var productiveDomains = []string{"github", "stackoverflow", "docs", "wikipedia"}

// ProductivityScore rates how productive an action of the given type is.
func ProductivityScore(actionType string, ctx action.Context) float32 {
	score, ok := productivityBase[actionType]
	if !ok {
		score = 0.5
	}

	switch actionType {
	case "file_edit":
		if lines, ok := ctx.FloatOK("linesChanged"); ok && lines > 0 {
			score = min(1.0, score+lines/100)
		}
	case "tab_visit":
		domain := strings.ToLower(ctx.String("domain"))
		for _, d := range productiveDomains {
			if strings.Contains(domain, d) {
				score = 0.7
				break
			}
		}
	}
	return float32(score)
}
// #endregion indicators

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
