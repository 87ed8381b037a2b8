package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/logging"
	"github.com/danielpatrickdp/kryptictrack/internal/manager"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

const start = 1_704_099_600.0

func session(from, n int) []action.Action {
	out := make([]action.Action, n)
	for k := range out {
		i := from + k
		a := action.Action{Timestamp: start + float64(i)*48}
		if i%5 == 2 {
			a.Source, a.ActionType = "chrome", "tab_switch"
			a.Context = action.Context{"domain": "github.com"}
		} else {
			a.Source, a.ActionType = "vscode", "file_edit"
			a.Context = action.Context{"file": "main.go", "language": "go", "linesChanged": 5}
		}
		out[k] = a
	}
	return out
}

func newStore(t *testing.T, actions []action.Action) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	appendAll(t, s, actions)
	return s
}

func appendAll(t *testing.T, s *store.Store, actions []action.Action) {
	t.Helper()
	for _, a := range actions {
		_, err := s.AppendAction(context.Background(), a)
		require.NoError(t, err)
	}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.CheckpointDir = filepath.Join(t.TempDir(), "checkpoints")
	cfg.Trainer.Reward.Hidden = []int{32}
	cfg.Options.Epochs = 3
	cfg.Options.BatchSize = 32
	return cfg
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) PublishJSON(_ context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, v.(Event))
	return nil
}

func (s *recordingSink) phases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if len(out) == 0 || out[len(out)-1] != e.Phase {
			out = append(out, e.Phase)
		}
	}
	return out
}

// gateSink blocks the first publish until released.
type gateSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSink) PublishJSON(context.Context, any) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return nil
}

type fakeReloader struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeReloader) LoadModel(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return true
}

func runStatusOf(t *testing.T, s *store.Store, runID string) string {
	t.Helper()
	var status string
	require.NoError(t, s.DB().QueryRow(`SELECT status FROM training_runs WHERE run_id = ?`, runID).Scan(&status))
	return status
}

func TestRunCompletesAndSavesCheckpoint(t *testing.T) {
	s := newStore(t, session(0, 150))
	sink := &recordingSink{}
	reloader := &fakeReloader{}
	r := NewRunner(testConfig(t), s, WithSink(sink), WithReloader(reloader), WithProvenance(s.DB()))

	runID, err := r.Start(context.Background(), Request{Notes: "nightly"})
	require.NoError(t, err)
	r.Wait()

	st := r.Status()
	require.Equal(t, PhaseCompleted, st.Phase, st.Error)
	assert.Equal(t, runID, st.RunID)
	assert.False(t, st.Running)
	assert.Equal(t, 150, st.Actions)
	assert.Equal(t, 150, st.Pairs)
	assert.Equal(t, 3, st.Epoch)
	require.NotNil(t, st.Eval)
	assert.True(t, st.Eval.Passed)
	assert.FileExists(t, st.ModelPath)
	assert.Contains(t, filepath.Base(st.ModelPath), runID[:8])

	c, err := checkpoint.Load(st.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, runID, c.Training.RunID)
	assert.Equal(t, []string{st.ModelPath}, reloader.paths)

	run, err := s.LastCompletedRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, st.ModelPath, run.ModelPath)
	assert.Equal(t, 150, run.TotalActionsUsed)
	assert.Equal(t, int64(1), run.FirstActionID)
	assert.Equal(t, int64(150), run.LastActionID)
	assert.Equal(t, start+149*48, run.LastTimestamp)
	assert.Equal(t, []string{"chrome", "vscode"}, run.DataSources)
	assert.Contains(t, run.Notes, "nightly")
	assert.Contains(t, run.Notes, "eval:")

	assert.Equal(t, []string{PhaseLoading, PhaseBuilding, PhaseTraining, PhaseEvaluating, PhaseSaving, PhaseCompleted}, sink.phases())
	var epochs int
	for _, e := range sink.events {
		if e.Phase == PhaseTraining && e.Epoch > 0 {
			epochs++
			assert.Equal(t, runID, e.RunID)
		}
	}
	assert.Equal(t, 3, epochs)

	decisions, err := logging.Decisions(context.Background(), s.DB(), runID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, logging.DecisionCommit, decisions[0].Decision)
	assert.Equal(t, "manual", decisions[0].TriggerType)
	assert.Equal(t, st.ModelPath, decisions[0].ModelPath)
	var rr logging.RunRecord
	require.NoError(t, json.Unmarshal([]byte(decisions[0].RecordJSON), &rr))
	assert.Equal(t, 150, rr.Pairs)
	assert.True(t, rr.EvalPassed)
	assert.Contains(t, rr.EvalMetrics, "reward_std")
}

func TestTrainedRunPredictsFrequentAction(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			s := newStore(t, session(0, 150))
			cfg := DefaultConfig()
			cfg.CheckpointDir = filepath.Join(t.TempDir(), "checkpoints")
			cfg.Options.Epochs = 5
			cfg.Options.BatchSize = 32
			cfg.Options.Seed = seed
			r := NewRunner(cfg, s)

			_, err := r.Start(context.Background(), Request{})
			require.NoError(t, err)
			r.Wait()
			st := r.Status()
			require.Equal(t, PhaseCompleted, st.Phase, st.Error)

			next := action.TimeOf(start + 150*48)
			m := manager.New(manager.DefaultConfig(), manager.WithClock(func() time.Time { return next }))
			require.True(t, m.LoadModel(st.ModelPath))

			recent, err := s.RecentActions(context.Background(), 10)
			require.NoError(t, err)
			p := m.PredictNextAction(context.Background(), recent, false)
			require.True(t, p.Available, p.Message)
			assert.Equal(t, "file_edit", p.PredictedAction, "top 3: %v", p.Top3)
			assert.Greater(t, p.Confidence, 0.5)
		})
	}
}

func TestInsufficientDataFailsWithoutCheckpoint(t *testing.T) {
	s := newStore(t, session(0, 30))
	cfg := testConfig(t)
	r := NewRunner(cfg, s, WithProvenance(s.DB()))

	runID, err := r.Start(context.Background(), Request{})
	require.NoError(t, err)
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "insufficient")
	assert.Empty(t, st.ModelPath)
	assert.NoDirExists(t, cfg.CheckpointDir)

	assert.Equal(t, store.RunFailed, runStatusOf(t, s, runID))
	decisions, err := logging.Decisions(context.Background(), s.DB(), runID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, logging.DecisionNoOp, decisions[0].Decision)
	assert.Contains(t, decisions[0].Reason, "insufficient")
	_, err = s.LastCompletedRun(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartWhileRunningAndStop(t *testing.T) {
	s := newStore(t, session(0, 150))
	gate := newGateSink()
	r := NewRunner(testConfig(t), s, WithSink(gate))

	runID, err := r.Start(context.Background(), Request{})
	require.NoError(t, err)
	<-gate.entered

	_, err = r.Start(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, r.Status().Running)

	r.Stop()
	close(gate.release)
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.ModelPath)
	assert.Equal(t, store.RunStopped, runStatusOf(t, s, runID))

	// The runner accepts a new run once the previous one has finished.
	_, err = r.Start(context.Background(), Request{Epochs: 1})
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, PhaseCompleted, r.Status().Phase)
}

func TestStartOutlivesCallerContext(t *testing.T) {
	s := newStore(t, session(0, 150))
	r := NewRunner(testConfig(t), s)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.Start(ctx, Request{Epochs: 1})
	require.NoError(t, err)
	cancel()
	r.Wait()

	assert.Equal(t, PhaseCompleted, r.Status().Phase)
}

func TestIncrementalRunUsesOnlyNewActions(t *testing.T) {
	s := newStore(t, session(0, 150))
	cfg := testConfig(t)
	cfg.Options.MinSamples = 20
	r := NewRunner(cfg, s)

	_, err := r.Start(context.Background(), Request{})
	require.NoError(t, err)
	r.Wait()
	first := r.Status()
	require.Equal(t, PhaseCompleted, first.Phase, first.Error)

	appendAll(t, s, session(150, 60))
	runID, err := r.Start(context.Background(), Request{Incremental: true})
	require.NoError(t, err)
	r.Wait()

	st := r.Status()
	require.Equal(t, PhaseCompleted, st.Phase, st.Error)
	assert.Equal(t, 60, st.Pairs)
	assert.NotEqual(t, first.ModelPath, st.ModelPath)

	run, err := s.LastCompletedRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, int64(151), run.FirstActionID)
	assert.Equal(t, 60, run.TotalActionsUsed)

	// Warm start keeps the first run's normalization.
	a, err := checkpoint.Load(first.ModelPath)
	require.NoError(t, err)
	b, err := checkpoint.Load(st.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, a.Normalization, b.Normalization)
}

func TestIncrementalWithoutHistoryTrainsFromScratch(t *testing.T) {
	s := newStore(t, session(0, 150))
	r := NewRunner(testConfig(t), s)

	_, err := r.Start(context.Background(), Request{Incremental: true, Epochs: 1})
	require.NoError(t, err)
	r.Wait()

	st := r.Status()
	assert.Equal(t, PhaseCompleted, st.Phase, st.Error)
	assert.Equal(t, 150, st.Pairs)
}

func TestRunStatusMapping(t *testing.T) {
	assert.Equal(t, store.RunCompleted, runStatus(PhaseCompleted))
	assert.Equal(t, store.RunStopped, runStatus(PhaseStopped))
	assert.Equal(t, store.RunFailed, runStatus(PhaseFailed))
	assert.Equal(t, "a\nb", joinNotes("a", "b"))
	assert.Equal(t, "b", joinNotes("", "b"))
	assert.Equal(t, "a", joinNotes("a", ""))
}
