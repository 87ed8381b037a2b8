package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// #region types
// HistoryEntry is one line of the recent-history summary.
type HistoryEntry struct {
	Action  string `json:"action"`
	Source  string `json:"source"`
	TimeAgo string `json:"time_ago"`
}

// Request carries what an explainer needs to describe a prediction.
type Request struct {
	PredictedAction string
	Confidence      float64
	TimeEstimate    string
	App             string
	DurationMinutes float64
	Context         string
	RecentHistory   []HistoryEntry
}

// Explainer turns a prediction into a short natural-language explanation.
type Explainer interface {
	Explain(ctx context.Context, req Request) (string, error)
}
// #endregion types

// #region fallback
// Fallback is the one-line summary used when no explainer is available or
// the configured one fails.
func Fallback(predicted string, confidence float64) string {
	return fmt.Sprintf("Prediction: %s (%.0f%% confident)", predicted, confidence*100)
}
// #endregion fallback

// #region template
// Template builds a deterministic explanation from the request fields alone.
type Template struct{}

// Explain implements Explainer.
func (Template) Explain(_ context.Context, req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been in %s for %.1f minutes", orUnknown(req.App), req.DurationMinutes)
	if req.Context != "" {
		fmt.Fprintf(&b, ", mostly %s", humanize(req.Context))
	}
	b.WriteString(". ")
	if n := countAction(req.RecentHistory, req.PredictedAction); n > 0 {
		fmt.Fprintf(&b, "%d of your last %d actions were %s, so you", n, len(req.RecentHistory), humanize(req.PredictedAction))
	} else {
		b.WriteString("You")
	}
	fmt.Fprintf(&b, " will likely %s next (%.0f%% confident)", humanize(req.PredictedAction), req.Confidence*100)
	if req.TimeEstimate != "" {
		fmt.Fprintf(&b, ", %s", req.TimeEstimate)
	}
	b.WriteString(".")
	return b.String(), nil
}

func countAction(history []HistoryEntry, act string) int {
	n := 0
	for _, h := range history {
		if h.Action == act {
			n++
		}
	}
	return n
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
// #endregion template

// #region factory
// Config selects and configures an explainer.
type Config struct {
	Provider string        `yaml:"provider"` // template | openai | grpc | none (default template)
	Addr     string        `yaml:"addr"`     // gRPC explain service
	BaseURL  string        `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"` // per-call deadline (default 10s)
}

// New builds the explainer named by cfg.Provider. It returns nil for "none".
func New(cfg Config, log *zap.Logger) (Explainer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "template":
		return Template{}, nil
	case "none":
		return nil, nil
	case "openai":
		return NewOpenAIExplainer(cfg, log), nil
	case "grpc":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("grpc explainer: addr is required")
		}
		g, err := NewGRPCExplainer(cfg.Addr, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown explainer provider %q", cfg.Provider)
	}
}
// #endregion factory
