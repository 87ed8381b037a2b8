package manager

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/explain"
	"github.com/danielpatrickdp/kryptictrack/internal/features"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/kryptictrack/internal/manager")

// #region manager
// Manager serves next-action predictions from the loaded checkpoint. It is
// safe for concurrent use: loads swap the model under a write lock and each
// request replays its actions into a private clone of the extractor.
type Manager struct {
	cfg       Config
	log       *zap.Logger
	explainer explain.Explainer
	recorder  Recorder
	metrics   *metrics.Metrics
	clock     func() time.Time

	mu        sync.RWMutex
	ckpt      *checkpoint.Checkpoint
	scorer    *reward.Scorer
	extractor *features.Extractor
	path      string
	loadedAt  time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithExplainer sets the collaborator used when an explanation is requested.
func WithExplainer(e explain.Explainer) Option {
	return func(m *Manager) { m.explainer = e }
}

// WithRecorder logs every served prediction to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMetrics records prediction outcomes and latency on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the reference time used for predictions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.clock = now
		}
	}
}

// New returns a manager with no model loaded.
func New(cfg Config, opts ...Option) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	m := &Manager{
		cfg:   cfg,
		log:   zap.NewNop(),
		clock: time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}
// #endregion manager

// #region load
// LoadLatestModel loads the newest checkpoint in the configured directory.
func (m *Manager) LoadLatestModel() bool {
	path, err := checkpoint.Latest(m.cfg.CheckpointDir)
	if err != nil {
		m.log.Warn("no model to load", zap.String("dir", m.cfg.CheckpointDir), zap.Error(err))
		return false
	}
	return m.LoadModel(path)
}

// LoadModel loads the checkpoint at path. A checkpoint with inconsistent
// shapes or a different candidate catalog is refused and the previously
// loaded model, if any, stays in place.
func (m *Manager) LoadModel(path string) bool {
	c, err := checkpoint.Load(path)
	if err != nil {
		m.log.Error("load model failed", zap.String("path", path), zap.Error(err))
		return false
	}
	scorer, err := c.Scorer()
	if err != nil {
		m.log.Error("build scorer failed", zap.String("path", path), zap.Error(err))
		return false
	}
	fcfg := m.cfg.Features
	fcfg.StateDim, fcfg.ActionDim = c.StateDim, c.ActionDim

	m.mu.Lock()
	m.ckpt = c
	m.scorer = scorer
	m.extractor = features.NewExtractor(fcfg)
	m.path = path
	m.loadedAt = time.Now()
	m.mu.Unlock()

	m.metrics.SetModelLoaded(true)
	m.log.Info("model loaded",
		zap.String("path", path),
		zap.Int("state_dim", c.StateDim),
		zap.Int("action_dim", c.ActionDim),
	)
	return true
}

// Loaded reports whether a model is available for inference.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scorer != nil
}

// ModelInfo describes the loaded model.
func (m *Manager) ModelInfo() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ckpt == nil {
		return Info{Message: "No model loaded"}
	}
	return Info{
		Loaded:        true,
		Path:          m.path,
		LoadedAt:      m.loadedAt,
		StateDim:      m.ckpt.StateDim,
		ActionDim:     m.ckpt.ActionDim,
		Hidden:        slices.Clone(m.ckpt.Hidden),
		CatalogDigest: m.ckpt.CatalogDigest,
		HasPolicy:     m.ckpt.Policy != nil,
		Training:      m.ckpt.Training,
	}
}

// snapshot returns the model pieces a request needs.
func (m *Manager) snapshot() (*reward.Scorer, *features.Extractor, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scorer, m.extractor, m.path
}
// #endregion load

// #region predict
// PredictNextAction ranks the candidate catalog for the user's next action.
// recent is ordered most recent first. Failures never escape: a missing
// model or an error during scoring yields a result with Available false and
// a message.
func (m *Manager) PredictNextAction(ctx context.Context, recent []action.Action, wantExplanation bool) (p Prediction) {
	ctx, span := tracer.Start(ctx, "manager.PredictNextAction")
	defer span.End()
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("prediction panicked", zap.Any("panic", r))
			p = failed(fmt.Errorf("%v", r))
			outcome = "error"
		}
		m.metrics.ObservePrediction(outcome, time.Since(start))
	}()

	scorer, ext, path := m.snapshot()
	if scorer == nil {
		outcome = "unavailable"
		return Prediction{Message: MsgNotLoaded}
	}

	chrono := slices.Clone(recent)
	slices.Reverse(chrono)
	now := action.Seconds(m.clock())

	var err error
	p, err = m.predict(scorer, ext, chrono, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.log.Error("prediction failed", zap.Error(err))
		outcome = "error"
		return failed(err)
	}
	span.SetAttributes(
		attribute.String("predicted_action", p.PredictedAction),
		attribute.Float64("confidence", p.Confidence),
	)

	if wantExplanation {
		p.Explanation = m.explain(ctx, p)
	}
	p.PredictionID = uuid.NewString()
	m.record(ctx, p, path)
	return p
}

func failed(err error) Prediction {
	return Prediction{Message: "Prediction error: " + err.Error()}
}

// predict scores every catalog type against the state reached by replaying
// chrono, which is oldest first, into a clone of the template extractor.
func (m *Manager) predict(scorer *reward.Scorer, template *features.Extractor, chrono []action.Action, now float64) (Prediction, error) {
	// only the window is replayed; summaries below see everything supplied
	replayed := chrono
	if len(replayed) > m.cfg.Window {
		replayed = replayed[len(replayed)-m.cfg.Window:]
	}
	ext := template.Clone()
	for _, a := range replayed {
		ext.UpdateFromAction(a)
	}
	ext.AdvanceTo(now)
	state := ext.ExtractStateVector()

	source, ctxt := "chrome", action.Context{}
	if n := len(chrono); n > 0 {
		source, ctxt = chrono[n-1].Source, chrono[n-1].Context
	}

	candidates := make([]Candidate, 0, len(action.Catalog))
	for _, t := range action.Catalog {
		vec := ext.ExtractActionVector(action.Action{
			Timestamp:  now,
			Source:     source,
			ActionType: t,
			Context:    ctxt,
		})
		r, err := scorer.Score(state, vec)
		if err != nil {
			return Prediction{}, fmt.Errorf("score %s: %w", t, err)
		}
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return Prediction{}, fmt.Errorf("score %s: non-finite reward", t)
		}
		candidates = append(candidates, Candidate{ActionType: t, Reward: r})
	}
	slices.SortStableFunc(candidates, func(a, b Candidate) int { return cmp.Compare(b.Reward, a.Reward) })

	top := candidates[0]
	return Prediction{
		Available:        true,
		PredictedAction:  top.ActionType,
		Confidence:       confidence(candidates),
		Reward:           top.Reward,
		Top3:             candidates[:min(3, len(candidates))],
		CurrentState:     currentState(chrono, now),
		RecentHistory:    recentHistory(chrono, now),
		TimeEstimate:     timeEstimate(chrono),
		CountdownSeconds: countdownSeconds(chrono),
		Message:          MsgOK,
	}, nil
}

// confidence min-max normalizes the top reward against the candidate spread.
// It is a relative score, not a calibrated probability: whenever the
// candidates differ at all the top one gets exactly 1.0, and 0.5 is returned
// when there is no spread.
func confidence(ranked []Candidate) float64 {
	if len(ranked) < 2 {
		return 0.5
	}
	hi, lo := ranked[0].Reward, ranked[len(ranked)-1].Reward
	if hi-lo <= 0 {
		return 0.5
	}
	return math.Min(math.Max((ranked[0].Reward-lo)/(hi-lo), 0), 1)
}

func (m *Manager) explain(ctx context.Context, p Prediction) string {
	fallback := explain.Fallback(p.PredictedAction, p.Confidence)
	if m.explainer == nil {
		return fallback
	}
	req := explain.Request{
		PredictedAction: p.PredictedAction,
		Confidence:      p.Confidence,
		TimeEstimate:    p.TimeEstimate,
		RecentHistory:   p.RecentHistory,
	}
	if s := p.CurrentState; s != nil {
		req.App, req.DurationMinutes, req.Context = s.App, s.DurationMinutes, s.Context
	}
	text, err := m.explainer.Explain(ctx, req)
	if err != nil {
		m.log.Warn("explainer failed, using fallback", zap.Error(err))
		return fallback
	}
	return text
}

func (m *Manager) record(ctx context.Context, p Prediction, path string) {
	if m.recorder == nil {
		return
	}
	stateJSON, _ := json.Marshal(p.CurrentState)
	err := m.recorder.RecordPrediction(ctx, store.PredictionRecord{
		PredictionID:    p.PredictionID,
		Timestamp:       m.clock(),
		StateJSON:       string(stateJSON),
		PredictedAction: p.PredictedAction,
		Confidence:      p.Confidence,
		Reward:          p.Reward,
		ModelPath:       path,
	})
	if err != nil {
		m.log.Warn("record prediction failed", zap.String("prediction_id", p.PredictionID), zap.Error(err))
	}
}
// #endregion predict

// #region evaluate
// EvaluateModel replays testActions, which are oldest first, and predicts
// each action from the ones before it. The reference time for each
// prediction is the timestamp of the action being predicted.
func (m *Manager) EvaluateModel(ctx context.Context, testActions []action.Action) (ev Evaluation) {
	_, span := tracer.Start(ctx, "manager.EvaluateModel")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("evaluation panicked", zap.Any("panic", r))
			ev = Evaluation{Message: fmt.Sprintf("Evaluation error: %v", r)}
		}
	}()

	scorer, ext, _ := m.snapshot()
	if scorer == nil {
		return Evaluation{Message: MsgNotLoaded}
	}

	var rewards []float64
	for i := 1; i < len(testActions); i++ {
		if err := ctx.Err(); err != nil {
			return Evaluation{Message: "Evaluation error: " + err.Error()}
		}
		p, err := m.predict(scorer, ext, testActions[:i], testActions[i].Timestamp)
		if err != nil {
			span.RecordError(err)
			return Evaluation{Message: "Evaluation error: " + err.Error()}
		}
		ev.TotalPredictions++
		if p.PredictedAction == testActions[i].ActionType {
			ev.CorrectPredictions++
		}
		rewards = append(rewards, p.Reward)
	}

	ev.Available = true
	ev.Message = MsgEvaluated
	if ev.TotalPredictions > 0 {
		ev.Accuracy = float64(ev.CorrectPredictions) / float64(ev.TotalPredictions) * 100
		ev.AvgReward = stat.Mean(rewards, nil)
	}
	span.SetAttributes(
		attribute.Int("total", ev.TotalPredictions),
		attribute.Float64("accuracy", ev.Accuracy),
	)
	m.log.Info("evaluation complete",
		zap.Int("total", ev.TotalPredictions),
		zap.Int("correct", ev.CorrectPredictions),
		zap.Float64("accuracy_pct", ev.Accuracy),
	)
	return ev
}
// #endregion evaluate
