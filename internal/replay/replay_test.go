package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/irl"
	"github.com/danielpatrickdp/kryptictrack/internal/manager"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

// #region fixture-tests

func loadCodingSession(t *testing.T) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", "coding_session.json"))
	require.NoError(t, err)
	return f
}

func TestLoadFixture(t *testing.T) {
	f := loadCodingSession(t)

	assert.Contains(t, f.Description, "Coding session")
	require.Len(t, f.Actions, 60)
	assert.Equal(t, 50.0, f.Expected.MinAccuracy)
	assert.Equal(t, "tab_switch", f.Actions[2].ActionType)
	assert.Equal(t, "go", f.Actions[0].Context.String("language"))
	for i := 1; i < len(f.Actions); i++ {
		assert.Less(t, f.Actions[i-1].Timestamp, f.Actions[i].Timestamp)
	}
}

func TestLoadFixtureErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFixture(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "read fixture")

	short := filepath.Join(dir, "short.json")
	require.NoError(t, WriteFixture(short, &Fixture{Actions: []action.Action{{ActionType: "scroll"}}}))
	_, err = LoadFixture(short)
	assert.ErrorContains(t, err, "at least 2 actions")
}

func TestWriteFixtureSortsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "f.json")
	f := &Fixture{
		Description: "out of order",
		Actions: []action.Action{
			{Timestamp: 30, Source: "vscode", ActionType: "file_save"},
			{Timestamp: 10, Source: "chrome", ActionType: "tab_visit"},
			{Timestamp: 20, Source: "vscode", ActionType: "file_edit"},
		},
		Expected: FixtureExpected{MinAccuracy: 10, MinPredictions: 2},
	}
	require.NoError(t, WriteFixture(path, f))

	got, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tab_visit", "file_edit", "file_save"},
		[]string{got.Actions[0].ActionType, got.Actions[1].ActionType, got.Actions[2].ActionType})
	assert.Equal(t, f.Expected, got.Expected)
}

func TestExportFixtureFromStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	defer s.Close()
	for i, typ := range []string{"file_edit", "mouse_move", "file_save", "tab_switch", "dom_change", "scroll"} {
		_, err := s.AppendAction(ctx, action.Action{Timestamp: float64(100 + i), Source: "vscode", ActionType: typ})
		require.NoError(t, err)
	}

	f, err := ExportFixture(ctx, s, 3, "tail", 40)
	require.NoError(t, err)
	require.Len(t, f.Actions, 3)
	assert.Equal(t, "file_save", f.Actions[0].ActionType)
	assert.Equal(t, "scroll", f.Actions[2].ActionType)
	assert.Zero(t, f.Actions[0].ID)
	assert.Equal(t, 40.0, f.Expected.MinAccuracy)
	assert.False(t, f.CreatedAt.IsZero())

	_, err = ExportFixture(ctx, s, 1, "", 0)
	assert.ErrorContains(t, err, "at least 2 actions")
}

type failingSource struct{}

func (failingSource) LoadActions(context.Context, store.ActionQuery) ([]action.Action, error) {
	return nil, errors.New("database is locked")
}

func TestExportFixturePropagatesLoadErrors(t *testing.T) {
	_, err := ExportFixture(context.Background(), failingSource{}, 10, "", 0)
	assert.ErrorContains(t, err, "database is locked")
}

// #endregion fixture-tests

// #region replay-tests

type stubEvaluator struct {
	ev   manager.Evaluation
	seen []action.Action
}

func (s *stubEvaluator) EvaluateModel(_ context.Context, actions []action.Action) manager.Evaluation {
	s.seen = actions
	return s.ev
}

func TestReplayChecksExpectations(t *testing.T) {
	f := loadCodingSession(t)
	ok := manager.Evaluation{Available: true, Accuracy: 75, TotalPredictions: 59, CorrectPredictions: 44}

	tests := []struct {
		name   string
		ev     manager.Evaluation
		passed bool
		reason string
	}{
		{"passes", ok, true, "accuracy 75.0% over 59 predictions"},
		{"unavailable", manager.Evaluation{Message: manager.MsgNotLoaded}, false, "evaluation unavailable: Model not loaded"},
		{"too few", manager.Evaluation{Available: true, Accuracy: 90, TotalPredictions: 10}, false, "only 10 predictions, need 59"},
		{"low accuracy", manager.Evaluation{Available: true, Accuracy: 20, TotalPredictions: 59}, false, "accuracy 20.0% below 50.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubEvaluator{ev: tt.ev}
			res := Replay(context.Background(), stub, f)
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Len(t, stub.seen, 60)
		})
	}
}

func TestReplayReportsBaseline(t *testing.T) {
	f := loadCodingSession(t)

	res := Replay(context.Background(), &stubEvaluator{}, f)

	assert.Equal(t, map[string]int{"file_edit": 48, "tab_switch": 12}, res.ByType)
	assert.InDelta(t, 47.0/59*100, res.Baseline, 1e-9)
}

func TestReplayWithTrainedModel(t *testing.T) {
	history := make([]action.Action, 150)
	for i := range history {
		a := action.Action{ID: int64(i + 1), Timestamp: 1_704_099_600 + float64(i)*48}
		if i%5 == 2 {
			a.Source, a.ActionType = "chrome", "tab_switch"
			a.Context = action.Context{"domain": "github.com"}
		} else {
			a.Source, a.ActionType = "vscode", "file_edit"
			a.Context = action.Context{"file": "main.go", "language": "go", "linesChanged": 5}
		}
		history[i] = a
	}
	traj, _ := trajectory.Build(history, trajectory.DefaultConfig())
	tr := irl.NewTrainer(irl.DefaultConfig())
	opts := irl.DefaultOptions()
	opts.Epochs = 5
	_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, opts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), checkpoint.FileName(time.Now()))
	require.NoError(t, tr.SaveModel(path))

	m := manager.New(manager.DefaultConfig())
	require.True(t, m.LoadModel(path))

	res := Replay(context.Background(), m, loadCodingSession(t))

	require.True(t, res.Evaluation.Available, res.Evaluation.Message)
	assert.Equal(t, 59, res.Evaluation.TotalPredictions)
	assert.Equal(t, res.Evaluation.Accuracy >= 50, res.Passed, res.Reason)
}

// #endregion replay-tests
