package trajectory

import (
	"slices"
	"sort"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/features"
)

// #region types
// Pair is one expert demonstration: the state before an action and the action itself.
// Alternatives holds the other candidate types encoded with the same source
// and context, i.e. what the user could have done instead from State.
type Pair struct {
	State        []float32
	Action       []float32
	Alternatives [][]float32
	ActionType   string
	ActionID     int64
}

// Trajectory is an ordered sequence of pairs replayed from one action stream.
type Trajectory []Pair

// Len returns the number of pairs.
func (t Trajectory) Len() int { return len(t) }

// Summary describes the actions a trajectory was built from.
type Summary struct {
	TotalActions   int            `json:"total_actions"`
	Skipped        int            `json:"skipped"`
	FirstActionID  int64          `json:"first_action_id"`
	LastActionID   int64          `json:"last_action_id"`
	FirstTimestamp float64        `json:"first_timestamp"`
	LastTimestamp  float64        `json:"last_timestamp"`
	BySource       map[string]int `json:"by_source"`
	ByType         map[string]int `json:"by_type"`
}

// Config controls a replay.
type Config struct {
	Features features.Config
	// ExcludeTypes are dropped before replay. Nil means action.NoiseTypes.
	ExcludeTypes []string
	// Alternatives are the types encoded as same-state alternatives for every
	// pair. Nil means action.Catalog; empty disables them.
	Alternatives []string
	// Observer, when set, is called with every pair as it is built.
	Observer func(a action.Action, p Pair)
}

// DefaultConfig replays with default vector widths and noise filtering.
func DefaultConfig() Config {
	return Config{Features: features.DefaultConfig()}
}
// #endregion types

// #region build
// Build replays actions through a fresh extractor. Actions are sorted by
// timestamp (stable). For each action the extractor clock is advanced to its
// timestamp, the state is captured, the action is encoded, and only then is
// the action folded into the extractor.
func Build(actions []action.Action, cfg Config) (Trajectory, Summary) {
	return BuildWith(features.NewExtractor(cfg.Features), actions, cfg)
}

// BuildWith replays onto an existing extractor, continuing its trajectory.
func BuildWith(ext *features.Extractor, actions []action.Action, cfg Config) (Trajectory, Summary) {
	exclude := cfg.ExcludeTypes
	if exclude == nil {
		exclude = action.NoiseTypes
	}
	alternatives := cfg.Alternatives
	if alternatives == nil {
		alternatives = action.Catalog
	}

	ordered := slices.Clone(actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	sum := Summary{
		BySource: make(map[string]int),
		ByType:   make(map[string]int),
	}
	traj := make(Trajectory, 0, len(ordered))

	for _, a := range ordered {
		if slices.Contains(exclude, a.ActionType) {
			sum.Skipped++
			continue
		}

		ext.AdvanceTo(a.Timestamp)
		p := Pair{
			State:      ext.ExtractStateVector(),
			Action:     ext.ExtractActionVector(a),
			ActionType: a.ActionType,
			ActionID:   a.ID,
		}
		for _, alt := range alternatives {
			if alt == a.ActionType {
				continue
			}
			p.Alternatives = append(p.Alternatives, ext.ExtractActionVector(action.Action{
				Timestamp:  a.Timestamp,
				Source:     a.Source,
				ActionType: alt,
				Context:    a.Context,
			}))
		}
		traj = append(traj, p)
		ext.UpdateFromAction(a)

		if cfg.Observer != nil {
			cfg.Observer(a, p)
		}

		if sum.TotalActions == 0 {
			sum.FirstActionID = a.ID
			sum.FirstTimestamp = a.Timestamp
		}
		sum.TotalActions++
		sum.LastActionID = a.ID
		sum.LastTimestamp = a.Timestamp
		sum.BySource[a.Source]++
		sum.ByType[a.ActionType]++
	}

	return traj, sum
}
// #endregion build

// Flatten concatenates trajectories in order.
func Flatten(trajs []Trajectory) []Pair {
	n := 0
	for _, t := range trajs {
		n += len(t)
	}
	out := make([]Pair, 0, n)
	for _, t := range trajs {
		out = append(out, t...)
	}
	return out
}
