package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/eval"
	"github.com/danielpatrickdp/kryptictrack/internal/irl"
	"github.com/danielpatrickdp/kryptictrack/internal/logging"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/kryptictrack/internal/jobs")

// #region runner
// Runner executes at most one training run at a time in the background:
// load actions, build the trajectory, train, validate, save, record, reload.
type Runner struct {
	cfg      Config
	store    Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	sinks    []ProgressSink
	reloader Reloader
	prov     *sql.DB
	now      func() time.Time

	mu      sync.Mutex
	status  Status
	trainer *irl.Trainer
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics records run outcomes and passes m to the trainer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSink adds a progress sink. Sink errors are logged, never fatal.
func WithSink(s ProgressSink) Option {
	return func(r *Runner) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithReloader is told about every checkpoint the runner saves.
func WithReloader(rl Reloader) Option {
	return func(r *Runner) { r.reloader = rl }
}

// WithProvenance records every run's commit/reject decision in db's
// provenance_log table.
func WithProvenance(db *sql.DB) Option {
	return func(r *Runner) { r.prov = db }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner returns an idle runner.
func NewRunner(cfg Config, st Store, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		store:  st,
		log:    zap.NewNop(),
		now:    time.Now,
		status: Status{Phase: PhaseIdle},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches a run and returns its ID. The run outlives ctx's
// cancellation; use Stop to end it.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Running {
		return "", ErrAlreadyRunning
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.trainer = nil
	r.done = make(chan struct{})
	r.status = Status{RunID: runID, Phase: PhaseLoading, Running: true, StartedAt: r.now().UTC()}

	go r.run(runCtx, runID, req, r.done)
	return runID, nil
}

// Stop asks the current run to finish. Training keeps the best parameters
// seen so far and saves them if any epoch improved.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Running {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.trainer != nil {
		r.trainer.Stop()
	}
	r.log.Info("stop requested", zap.String("run_id", r.status.RunID))
}

// Wait blocks until the current run, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the current or last run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.Eval != nil {
		e := *s.Eval
		e.Metrics = slices.Clone(e.Metrics)
		s.Eval = &e
	}
	return s
}

func (r *Runner) update(fn func(s *Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}
// #endregion runner

// #region run
func (r *Runner) run(ctx context.Context, runID string, req Request, done chan struct{}) {
	defer close(done)
	ctx, span := tracer.Start(ctx, "jobs.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Bool("incremental", req.Incremental),
	))
	defer span.End()
	// Bookkeeping after Stop must still reach the store.
	bg := context.WithoutCancel(ctx)

	rec := store.TrainingRun{
		RunID:     runID,
		StartedAt: r.Status().StartedAt,
		Status:    store.RunRunning,
		Notes:     req.Notes,
	}
	log := r.log.With(zap.String("run_id", runID))
	log.Info("training run started", zap.Bool("incremental", req.Incremental))

	rr := logging.RunRecord{
		RunID: runID,
		Thresholds: logging.RunThresholds{
			MinRewardStd:       r.cfg.Eval.MinRewardStd,
			MinRankingAccuracy: r.cfg.Eval.MinRankingAccuracy,
		},
	}
	phase, err := r.execute(ctx, req, &rec, &rr, log)
	if err != nil && ctx.Err() != nil {
		phase, err = PhaseStopped, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	rec.CompletedAt = r.now().UTC()
	rec.Status = runStatus(phase)
	if err != nil {
		rec.Notes = joinNotes(rec.Notes, "error: "+err.Error())
	}
	if rerr := r.store.RecordTrainingRun(bg, rec); rerr != nil {
		log.Error("record training run failed", zap.Error(rerr))
	}
	r.logDecision(bg, req, rec, rr, err)

	r.update(func(s *Status) {
		s.Phase = phase
		s.Running = false
		s.ModelPath = rec.ModelPath
		s.FinishedAt = rec.CompletedAt
		if err != nil {
			s.Error = err.Error()
		}
	})
	r.metrics.ObserveRun(rec.Status)
	ev := Event{Phase: phase}
	if err != nil {
		ev.Message = err.Error()
		log.Error("training run failed", zap.Error(err))
	} else {
		ev.Message = rec.ModelPath
		log.Info("training run finished", zap.String("phase", phase), zap.String("model_path", rec.ModelPath))
	}
	r.publish(bg, runID, ev)
}

// execute runs the pipeline and returns the terminal phase.
func (r *Runner) execute(ctx context.Context, req Request, rec *store.TrainingRun, rr *logging.RunRecord, log *zap.Logger) (string, error) {
	bg := context.WithoutCancel(ctx)
	opts := r.cfg.Options
	if req.Epochs > 0 {
		opts.Epochs = req.Epochs
	}

	// 1. Load
	r.enter(ctx, rec.RunID, PhaseLoading, "")
	q := store.ActionQuery{ExcludeTypes: r.excludeTypes(), Limit: r.cfg.MaxActions}
	var warmStart string
	if req.Incremental {
		last, err := r.store.LastCompletedRun(ctx)
		switch {
		case err == nil:
			q.Since = last.LastTimestamp
			warmStart = last.ModelPath
		case errors.Is(err, store.ErrNotFound):
			log.Info("no completed run, training from scratch")
		default:
			return PhaseFailed, fmt.Errorf("last completed run: %w", err)
		}
	}
	actions, err := r.store.LoadActions(ctx, q)
	if err != nil {
		return PhaseFailed, fmt.Errorf("load actions: %w", err)
	}

	// 2. Build
	r.enter(ctx, rec.RunID, PhaseBuilding, fmt.Sprintf("%d actions", len(actions)))
	traj, sum := trajectory.Build(actions, r.cfg.Trajectory)
	rec.FirstActionID, rec.LastActionID = sum.FirstActionID, sum.LastActionID
	rec.FirstTimestamp, rec.LastTimestamp = sum.FirstTimestamp, sum.LastTimestamp
	rec.TotalActionsUsed = len(traj)
	rec.DataSources = slices.Sorted(maps.Keys(sum.BySource))
	rr.FirstActionID, rr.LastActionID = rec.FirstActionID, rec.LastActionID
	rr.FirstTimestamp, rr.LastTimestamp = rec.FirstTimestamp, rec.LastTimestamp
	rr.Pairs = len(traj)
	rr.DataSources = rec.DataSources
	r.update(func(s *Status) {
		s.Actions = len(actions)
		s.Pairs = len(traj)
	})
	if err := r.store.RecordTrainingRun(bg, *rec); err != nil {
		log.Warn("record running state failed", zap.Error(err))
	}

	// 3. Train
	trainer := irl.NewTrainer(r.cfg.Trainer, irl.WithLogger(log), irl.WithMetrics(r.metrics))
	if warmStart != "" {
		if err := trainer.LoadModel(warmStart); err != nil {
			log.Warn("warm start failed, training from scratch", zap.String("path", warmStart), zap.Error(err))
			trainer = irl.NewTrainer(r.cfg.Trainer, irl.WithLogger(log), irl.WithMetrics(r.metrics))
		} else {
			rr.WarmStart = warmStart
		}
	}
	r.mu.Lock()
	r.trainer = trainer
	r.mu.Unlock()

	opts.Progress = func(s irl.EpochStats) {
		r.update(func(st *Status) {
			st.Epoch = s.Epoch
			st.TotalEpochs = s.TotalEpochs
			st.Loss = s.Loss
		})
		r.publish(bg, rec.RunID, Event{
			Phase:        PhaseTraining,
			Epoch:        s.Epoch,
			TotalEpochs:  s.TotalEpochs,
			Loss:         s.Loss,
			ValLoss:      s.ValLoss,
			RewardMean:   s.RewardMean,
			RewardStd:    s.RewardStd,
			LearningRate: s.LearningRate,
		})
	}
	r.enter(ctx, rec.RunID, PhaseTraining, "")
	r.update(func(s *Status) { s.TotalEpochs = opts.Epochs })
	hist, err := trainer.Train(ctx, []trajectory.Trajectory{traj}, opts)
	stopped := errors.Is(err, irl.ErrStopped)
	if err != nil && !stopped {
		return PhaseFailed, err
	}
	rec.NumEpochs = hist.EpochsRun
	if hist.Improved {
		rec.BestEpoch = hist.BestEpoch + 1
		rec.FinalLoss = hist.BestLoss
	}
	rr.EpochsRun, rr.BestEpoch, rr.BestLoss = rec.NumEpochs, rec.BestEpoch, rec.FinalLoss
	if stopped && !hist.Improved {
		return PhaseStopped, nil
	}

	// 4. Validate
	r.enter(bg, rec.RunID, PhaseEvaluating, "")
	c, err := trainer.Checkpoint()
	if err != nil {
		return PhaseFailed, err
	}
	c.Training.RunID = rec.RunID
	res := eval.NewEvalHarness(r.cfg.Eval).Run(c, traj)
	r.update(func(s *Status) { s.Eval = &res })
	rec.Notes = joinNotes(rec.Notes, evalNotes(res))
	rr.EvalPassed = res.Passed
	rr.EvalMetrics = make(map[string]float64, len(res.Metrics))
	for _, m := range res.Metrics {
		rr.EvalMetrics[m.Name] = m.Value
	}
	if !res.Passed {
		return PhaseFailed, errors.New(res.Reason)
	}

	// 5. Save
	r.enter(bg, rec.RunID, PhaseSaving, "")
	if err := os.MkdirAll(r.cfg.CheckpointDir, 0o755); err != nil {
		return PhaseFailed, fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(r.cfg.CheckpointDir, checkpoint.TaggedFileName(r.now().UTC(), rec.RunID[:8]))
	if err := checkpoint.Save(path, c); err != nil {
		return PhaseFailed, err
	}
	rec.ModelPath = path
	log.Info("checkpoint saved", zap.String("path", path), zap.Int("best_epoch", rec.BestEpoch))

	// 6. Reload
	if r.reloader != nil && !r.reloader.LoadModel(path) {
		log.Warn("reload after training failed", zap.String("path", path))
	}

	if stopped {
		return PhaseStopped, nil
	}
	return PhaseCompleted, nil
}

func (r *Runner) logDecision(ctx context.Context, req Request, rec store.TrainingRun, rr logging.RunRecord, runErr error) {
	if r.prov == nil {
		return
	}
	entry := logging.ProvenanceEntry{
		RunID:       rec.RunID,
		ModelPath:   rec.ModelPath,
		TriggerType: "manual",
		Decision:    logging.DecisionNoOp,
		CreatedAt:   rec.CompletedAt,
	}
	if req.Incremental {
		entry.TriggerType = "incremental"
	}
	switch {
	case rec.ModelPath != "":
		entry.Decision = logging.DecisionCommit
	case rr.EvalMetrics != nil && !rr.EvalPassed:
		entry.Decision = logging.DecisionReject
	}
	if runErr != nil {
		entry.Reason = runErr.Error()
	} else {
		entry.Reason = rec.Status
	}
	if b, err := json.Marshal(rr); err == nil {
		entry.RecordJSON = string(b)
	}
	if err := logging.LogDecision(ctx, r.prov, entry); err != nil {
		r.log.Warn("provenance log failed", zap.String("run_id", rec.RunID), zap.Error(err))
	}
}

func (r *Runner) enter(ctx context.Context, runID, phase, msg string) {
	r.update(func(s *Status) { s.Phase = phase })
	r.publish(ctx, runID, Event{Phase: phase, Message: msg})
}

func (r *Runner) publish(ctx context.Context, runID string, ev Event) {
	ev.RunID = runID
	ev.Time = r.now().UTC()
	for _, s := range r.sinks {
		if err := s.PublishJSON(ctx, ev); err != nil {
			r.log.Warn("publish progress failed", zap.String("phase", ev.Phase), zap.Error(err))
		}
	}
}

func (r *Runner) excludeTypes() []string {
	if r.cfg.Trajectory.ExcludeTypes != nil {
		return r.cfg.Trajectory.ExcludeTypes
	}
	return action.NoiseTypes
}
// #endregion run

// #region helpers
func runStatus(phase string) string {
	switch phase {
	case PhaseCompleted:
		return store.RunCompleted
	case PhaseStopped:
		return store.RunStopped
	default:
		return store.RunFailed
	}
}

func evalNotes(res eval.EvalResult) string {
	b, err := json.Marshal(res)
	if err != nil {
		return res.Reason
	}
	return "eval: " + string(b)
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
// #endregion helpers
