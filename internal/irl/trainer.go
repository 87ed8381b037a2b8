package irl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/optim"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/kryptictrack/internal/irl")

// #region trainer
// Trainer fits a reward model to expert trajectories with a margin ranking
// objective against random negative actions.
type Trainer struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	model   *reward.Model
	norm    reward.Normalization
	policy  *reward.Policy
	history *History

	stop atomic.Bool

	mu     sync.Mutex
	status Status
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetrics records epochs and updates on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

// NewTrainer returns an idle trainer. The model is created on the first Train
// call unless one is loaded with LoadModel first.
func NewTrainer(cfg Config, opts ...Option) *Trainer {
	if len(cfg.Reward.Hidden) == 0 {
		cfg.Reward.Hidden = reward.DefaultConfig().Hidden
	}
	t := &Trainer{
		cfg:    cfg,
		log:    zap.NewNop(),
		status: Status{State: StateIdle},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Stop asks a running Train call to finish after the current batch.
func (t *Trainer) Stop() {
	t.stop.Store(true)
}

// Status returns a snapshot of training progress.
func (t *Trainer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Model returns the current reward model, or nil before training or loading.
func (t *Trainer) Model() *reward.Model {
	return t.model
}

// Normalization returns the statistics the model is trained under.
func (t *Trainer) Normalization() reward.Normalization {
	return t.norm
}

// Policy returns the behavioral-cloning policy when one was trained.
func (t *Trainer) Policy() *reward.Policy {
	return t.policy
}

func (t *Trainer) setStatus(fn func(s *Status)) {
	t.mu.Lock()
	fn(&t.status)
	t.status.UpdatedAt = time.Now()
	t.mu.Unlock()
}
// #endregion trainer

// #region train
// Train fits the model on the flattened trajectories and returns the per-epoch
// history. The best-scoring parameters are restored before returning, whether
// training ran to completion, stopped early, or was stopped via Stop or ctx.
// In the last case the error wraps ErrStopped and History.Improved tells
// whether the restored parameters are worth saving.
func (t *Trainer) Train(ctx context.Context, trajs []trajectory.Trajectory, opts Options) (*History, error) {
	ctx, span := tracer.Start(ctx, "irl.Train", trace.WithAttributes(
		attribute.Int("epochs", opts.Epochs),
		attribute.Int("batch_size", opts.BatchSize),
	))
	defer span.End()

	hist, err := t.train(ctx, trajs, opts.withDefaults())
	if err != nil && !errors.Is(err, ErrStopped) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.setStatus(func(s *Status) { s.State = StateFailed })
	}
	return hist, err
}

func (t *Trainer) train(ctx context.Context, trajs []trajectory.Trajectory, opts Options) (*History, error) {
	t.stop.Store(false)
	stateDim, actionDim := t.cfg.Reward.StateDim, t.cfg.Reward.ActionDim

	pairs := trajectory.Flatten(trajs)
	for i, p := range pairs {
		if len(p.State) != stateDim || len(p.Action) != actionDim {
			return nil, fmt.Errorf("pair %d: %w: got %d+%d, want %d+%d",
				i, reward.ErrDimensionMismatch, len(p.State), len(p.Action), stateDim, actionDim)
		}
		for k, alt := range p.Alternatives {
			if len(alt) != actionDim {
				return nil, fmt.Errorf("pair %d alternative %d: %w: got %d, want %d",
					i, k, reward.ErrDimensionMismatch, len(alt), actionDim)
			}
		}
	}
	if len(pairs) == 0 || len(pairs) < opts.MinSamples {
		return nil, fmt.Errorf("%w: have %d pairs, need %d", ErrInsufficientData, len(pairs), opts.MinSamples)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	order := rng.Perm(len(pairs))
	nVal := int(float64(len(pairs)) * opts.ValidationSplit)
	valIdx, trainIdx := order[:nVal], order[nVal:]

	if t.model == nil {
		states := make([][]float32, len(trainIdx))
		actions := make([][]float32, len(trainIdx))
		for i, idx := range trainIdx {
			states[i], actions[i] = pairs[idx].State, pairs[idx].Action
		}
		t.norm = reward.FitNormalization(states, actions)
		t.model = reward.NewModel(t.cfg.Reward, rng)
	} else {
		t.log.Info("continuing from loaded model", zap.Int("pairs", len(pairs)))
	}
	t.model.SetRNG(rng)

	inputs := make([][]float64, len(pairs))
	alts := make([][][]float64, len(pairs))
	for i, p := range pairs {
		x, err := t.norm.Input(p.State, p.Action)
		if err != nil {
			return nil, fmt.Errorf("normalize pair %d: %w", i, err)
		}
		inputs[i] = x
		for _, alt := range p.Alternatives {
			alts[i] = append(alts[i], t.norm.Action(alt))
		}
	}

	opt := optim.NewAdamW(t.cfg.Optimizer, t.model.Tensors())
	sched := optim.NewPlateauScheduler(t.cfg.Scheduler)
	stopper := optim.NewEarlyStopper(opts.MinDelta, opts.Patience)
	grads := t.model.NewGrads()
	scale := 1 / float64(opts.AccumulationSteps)

	hist := &History{TrainSamples: len(trainIdx), ValSamples: nVal, BestEpoch: -1}
	t.history = hist
	var best *reward.Params

	t.setStatus(func(s *Status) {
		*s = Status{State: StateTraining, TotalEpochs: opts.Epochs, LearningRate: opt.LearningRate()}
	})
	t.log.Info("training started",
		zap.Int("train_samples", len(trainIdx)),
		zap.Int("val_samples", nVal),
		zap.Int("epochs", opts.Epochs),
		zap.Int("batch_size", opts.BatchSize),
	)

	stopped := false
	for epoch := 0; epoch < opts.Epochs && !stopped; epoch++ {
		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
		lr := opt.LearningRate()

		var lossSum float64
		var batches, pending int
		rewards := make([]float64, 0, len(trainIdx))
		for start := 0; start < len(trainIdx); start += opts.BatchSize {
			if t.stop.Load() || ctx.Err() != nil {
				stopped = true
				break
			}
			batch := trainIdx[start:min(start+opts.BatchSize, len(trainIdx))]
			loss, r := t.batchLoss(inputs, alts, batch, stateDim, rng, opts, &grads, scale)
			lossSum += loss
			rewards = append(rewards, r...)
			batches++
			pending++
			if pending == opts.AccumulationSteps {
				t.apply(opt, &grads, opts.MaxGradNorm, hist)
				pending = 0
			}
		}
		if stopped {
			grads.Zero()
			break
		}
		if pending > 0 {
			t.apply(opt, &grads, opts.MaxGradNorm, hist)
		}

		stats := EpochStats{Epoch: epoch + 1, TotalEpochs: opts.Epochs, LearningRate: lr}
		stats.Loss = lossSum / float64(batches)
		stats.RewardMean, stats.RewardStd = meanStd(rewards)
		tracked := stats.Loss
		if nVal > 0 {
			vl, vr := t.batchLoss(inputs, alts, valIdx, stateDim, rng, opts, nil, 0)
			stats.HasValidation = true
			stats.ValLoss = vl
			stats.ValRewardMean, stats.ValRewardStd = meanStd(vr)
			tracked = vl
		}

		opt.SetLearningRate(sched.Step(tracked, lr))
		if stopper.Observe(epoch, tracked) {
			snap := t.model.Params()
			best = &snap
			stats.Improved = true
		}
		hist.record(stats)
		t.observeEpoch(stats, opts, hist.Updates)

		if stopper.ShouldStop() {
			hist.EarlyStopped = true
			t.log.Info("early stopping", zap.Int("epoch", epoch+1))
			break
		}
	}

	hist.BestLoss, hist.BestEpoch = stopper.Best()
	if best != nil {
		if err := t.model.SetParams(*best); err != nil {
			return hist, fmt.Errorf("restore best params: %w", err)
		}
		hist.Improved = true
	}

	if stopped {
		hist.Stopped = true
		t.setStatus(func(s *Status) { s.State = StateStopped })
		t.log.Warn("training stopped", zap.Int("epochs_run", hist.EpochsRun), zap.Bool("improved", hist.Improved))
		if ctx.Err() != nil {
			return hist, errors.Join(ErrStopped, ctx.Err())
		}
		return hist, ErrStopped
	}

	if opts.TrainPolicy {
		t.trainPolicy(pairs, inputs, stateDim, rng, opts, hist)
	}

	t.setStatus(func(s *Status) { s.State = StateCompleted })
	t.log.Info("training complete",
		zap.Int("epochs_run", hist.EpochsRun),
		zap.Int("best_epoch", hist.BestEpoch+1),
		zap.Float64("best_loss", hist.BestLoss),
		zap.Bool("early_stopped", hist.EarlyStopped),
	)
	return hist, nil
}
// #endregion train

// #region batch
// negative is one scored contrast input for an expert pair.
type negative struct {
	r      float64
	weight float64
	cache  *reward.Cache
	active bool
}

// batchLoss scores each expert pair in batch against a fresh N(0,1) negative
// action and against its same-state alternatives, and returns the mean loss
// and the expert rewards. When grads is non-nil the loss gradient times scale
// is accumulated into it and dropout is active.
//
// hinge(r) = max(0, (r - r_exp)/T + margin)
// loss = mean(hinge(r_neg) + w*mean_k hinge(r_alt_k)) + l2*mean(r_exp^2) - spread*std(r_exp)
func (t *Trainer) batchLoss(inputs [][]float64, alts [][][]float64, batch []int, stateDim int, rng *rand.Rand,
	opts Options, grads *reward.Params, scale float64) (float64, []float64) {
	train := grads != nil
	n := len(batch)
	inputDim := t.cfg.Reward.InputDim()

	rExp := make([]float64, n)
	cExp := make([]*reward.Cache, n)
	negs := make([][]negative, n)
	score := func(x []float64, weight float64) negative {
		r, c := t.model.Forward(x, train)
		return negative{r: r, weight: weight, cache: c}
	}

	for i, idx := range batch {
		x := inputs[idx]
		rExp[i], cExp[i] = t.model.Forward(x, train)

		// inputs are fresh slices: caches keep a reference
		noise := make([]float64, inputDim)
		copy(noise, x[:stateDim])
		for j := stateDim; j < inputDim; j++ {
			noise[j] = rng.NormFloat64()
		}
		negs[i] = append(negs[i], score(noise, 1))

		if k := len(alts[idx]); k > 0 && opts.ContrastWeight > 0 {
			w := opts.ContrastWeight / float64(k)
			for _, a := range alts[idx] {
				in := make([]float64, 0, inputDim)
				in = append(append(in, x[:stateDim]...), a...)
				negs[i] = append(negs[i], score(in, w))
			}
		}
	}

	fn := float64(n)
	var hinge, sq float64
	for i := range rExp {
		for k := range negs[i] {
			ng := &negs[i][k]
			if h := (ng.r-rExp[i])/opts.Temperature + opts.Margin; h > 0 {
				hinge += ng.weight * h
				ng.active = true
			}
		}
		sq += rExp[i] * rExp[i]
	}
	var mean, std float64
	if n > 1 {
		mean, std = stat.MeanStdDev(rExp, nil)
	}
	loss := hinge/fn + opts.RewardL2*sq/fn - opts.SpreadBonus*std

	if train {
		for i := range rExp {
			gExp := 2 * opts.RewardL2 * rExp[i] / fn
			if std > 0 {
				gExp -= opts.SpreadBonus * (rExp[i] - mean) / ((fn - 1) * std)
			}
			for _, ng := range negs[i] {
				if !ng.active {
					continue
				}
				g := ng.weight / (fn * opts.Temperature)
				gExp -= g
				t.model.Backward(ng.cache, g*scale, grads)
			}
			t.model.Backward(cExp[i], gExp*scale, grads)
		}
	}
	return loss, rExp
}

func (t *Trainer) apply(opt *optim.AdamW, grads *reward.Params, maxNorm float64, hist *History) {
	optim.ClipGradNorm(grads.Tensors(), maxNorm)
	opt.Step(t.model.Tensors(), grads.Tensors())
	grads.Zero()
	hist.Updates++
	t.metrics.ObserveUpdate()
}
// #endregion batch

// #region policy
func (t *Trainer) trainPolicy(pairs []trajectory.Pair, inputs [][]float64, stateDim int,
	rng *rand.Rand, opts Options, hist *History) {
	var states [][]float64
	var labels []int
	for i, p := range pairs {
		if idx, ok := action.CatalogIndex(p.ActionType); ok {
			states = append(states, inputs[i][:stateDim])
			labels = append(labels, idx)
		}
	}
	if len(states) < 2 {
		t.log.Warn("skipping policy training: too few catalog actions", zap.Int("labeled", len(states)))
		return
	}
	t.policy = reward.NewPolicy(stateDim, opts.PolicyHidden, action.Catalog, rng)
	for epoch := 0; epoch < opts.PolicyEpochs; epoch++ {
		hist.PolicyLoss, hist.PolicyAccuracy = t.policy.TrainEpoch(states, labels, opts.PolicyLR, rng)
	}
	t.log.Info("policy trained",
		zap.Float64("loss", hist.PolicyLoss),
		zap.Float64("accuracy", hist.PolicyAccuracy),
	)
}
// #endregion policy

// #region bookkeeping
func (h *History) record(s EpochStats) {
	h.EpochsRun++
	h.Loss = append(h.Loss, s.Loss)
	h.RewardMean = append(h.RewardMean, s.RewardMean)
	h.RewardStd = append(h.RewardStd, s.RewardStd)
	h.LearningRate = append(h.LearningRate, s.LearningRate)
	if s.HasValidation {
		h.ValLoss = append(h.ValLoss, s.ValLoss)
		h.ValRewardMean = append(h.ValRewardMean, s.ValRewardMean)
		h.ValRewardStd = append(h.ValRewardStd, s.ValRewardStd)
	}
}

func (t *Trainer) observeEpoch(s EpochStats, opts Options, updates int) {
	t.setStatus(func(st *Status) {
		st.Epoch = s.Epoch
		st.Loss = s.Loss
		st.RewardMean = s.RewardMean
		st.RewardStd = s.RewardStd
		st.LearningRate = s.LearningRate
		st.Updates = updates
	})
	t.metrics.ObserveEpoch(s.Loss, s.RewardMean, s.RewardStd, s.LearningRate)

	fields := []zap.Field{
		zap.Int("epoch", s.Epoch),
		zap.Float64("loss", s.Loss),
		zap.Float64("reward_mean", s.RewardMean),
		zap.Float64("reward_std", s.RewardStd),
		zap.Float64("lr", s.LearningRate),
	}
	if s.HasValidation {
		fields = append(fields, zap.Float64("val_loss", s.ValLoss))
	}
	t.log.Debug("epoch complete", fields...)

	if opts.Progress != nil {
		opts.Progress(s)
	}
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(xs, nil)
	return mean, math.Sqrt(variance)
}
// #endregion bookkeeping

// #region persistence
// Checkpoint packages the current model, normalization and optional policy.
func (t *Trainer) Checkpoint() (*checkpoint.Checkpoint, error) {
	if t.model == nil {
		return nil, errors.New("no model to checkpoint")
	}
	c := checkpoint.New(t.model.Config(), t.model.Params(), t.norm)
	if t.policy != nil {
		p := t.policy.Params()
		c.Policy = &p
	}
	if h := t.history; h != nil {
		c.Training = checkpoint.TrainingInfo{
			EpochsRun: h.EpochsRun,
			BestEpoch: h.BestEpoch + 1,
			BestLoss:  h.BestLoss,
			Samples:   h.TrainSamples + h.ValSamples,
		}
	}
	return c, nil
}

// SaveModel writes the current model to path atomically.
func (t *Trainer) SaveModel(path string) error {
	c, err := t.Checkpoint()
	if err != nil {
		return err
	}
	if err := checkpoint.Save(path, c); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	t.log.Info("model saved", zap.String("path", path))
	return nil
}

// LoadModel replaces the trainer's model with the checkpoint at path so the
// next Train call continues from it.
func (t *Trainer) LoadModel(path string) error {
	c, err := checkpoint.Load(path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if c.StateDim != t.cfg.Reward.StateDim || c.ActionDim != t.cfg.Reward.ActionDim {
		return fmt.Errorf("load model: %w: checkpoint %d+%d, trainer %d+%d", reward.ErrDimensionMismatch,
			c.StateDim, c.ActionDim, t.cfg.Reward.StateDim, t.cfg.Reward.ActionDim)
	}
	m, err := reward.NewModelFromParams(c.RewardConfig(), c.Reward)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	t.cfg.Reward = c.RewardConfig()
	t.model = m
	t.norm = c.Normalization
	t.policy = nil
	if c.Policy != nil {
		if p, err := reward.PolicyFromParams(*c.Policy); err == nil {
			t.policy = p
		}
	}
	t.log.Info("model loaded", zap.String("path", path))
	return nil
}
// #endregion persistence
