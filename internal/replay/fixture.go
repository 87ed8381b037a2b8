package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
	Actions     []action.Action `json:"actions"`
	Expected    FixtureExpected `json:"expected"`
}

// FixtureExpected holds the pass thresholds for a replay.
type FixtureExpected struct {
	MinAccuracy    float64 `json:"min_accuracy"`              // percent
	MinPredictions int     `json:"min_predictions,omitempty"` // default len(actions)-1
}

// ActionSource is where fixtures are exported from. *store.Store satisfies it.
type ActionSource interface {
	LoadActions(ctx context.Context, q store.ActionQuery) ([]action.Action, error)
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. Actions are returned
// oldest first.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Actions) < 2 {
		return nil, fmt.Errorf("fixture %s: need at least 2 actions, have %d", path, len(f.Actions))
	}
	sort.SliceStable(f.Actions, func(i, j int) bool {
		return f.Actions[i].Timestamp < f.Actions[j].Timestamp
	})
	return &f, nil
}

// WriteFixture writes f as indented JSON, creating parent directories.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ExportFixture captures the last n logged actions, noise excluded, as a
// fixture. n <= 0 exports everything.
func ExportFixture(ctx context.Context, src ActionSource, n int, description string, minAccuracy float64) (*Fixture, error) {
	actions, err := src.LoadActions(ctx, store.ActionQuery{ExcludeTypes: action.NoiseTypes, Limit: n})
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	if len(actions) < 2 {
		return nil, fmt.Errorf("need at least 2 actions to export, have %d", len(actions))
	}
	for i := range actions {
		actions[i].ID = 0
	}
	return &Fixture{
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Actions:     actions,
		Expected:    FixtureExpected{MinAccuracy: minAccuracy},
	}, nil
}

// #endregion fixture-loader
