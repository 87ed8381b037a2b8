package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for training and serving.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Training metrics
	TrainingEpochs  prometheus.Counter
	TrainingUpdates prometheus.Counter
	TrainingLoss    prometheus.Gauge
	RewardMean      prometheus.Gauge
	RewardStd       prometheus.Gauge
	LearningRate    prometheus.Gauge
	TrainingRuns    *prometheus.CounterVec

	// Serving metrics
	Predictions       *prometheus.CounterVec
	PredictionLatency prometheus.Histogram
	ModelLoaded       prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		TrainingEpochs: f.NewCounter(prometheus.CounterOpts{
			Name: "irl_training_epochs_total",
			Help: "Completed training epochs",
		}),
		TrainingUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "irl_training_updates_total",
			Help: "Optimizer steps applied",
		}),
		TrainingLoss: f.NewGauge(prometheus.GaugeOpts{
			Name: "irl_training_loss",
			Help: "Mean loss of the last completed epoch",
		}),
		RewardMean: f.NewGauge(prometheus.GaugeOpts{
			Name: "irl_reward_mean",
			Help: "Mean expert reward of the last completed epoch",
		}),
		RewardStd: f.NewGauge(prometheus.GaugeOpts{
			Name: "irl_reward_std",
			Help: "Expert reward standard deviation of the last completed epoch",
		}),
		LearningRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "irl_learning_rate",
			Help: "Current optimizer learning rate",
		}),
		TrainingRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irl_training_runs_total",
			Help: "Training runs by final status",
		}, []string{"status"}),
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irl_predictions_total",
			Help: "Predictions served by outcome",
		}, []string{"outcome"}),
		PredictionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "irl_prediction_duration_seconds",
			Help:    "Time to score all candidates for one prediction",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "irl_model_loaded",
			Help: "1 when a reward model is loaded",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveEpoch records one completed epoch.
func (m *Metrics) ObserveEpoch(loss, rewardMean, rewardStd, lr float64) {
	if m == nil {
		return
	}
	m.TrainingEpochs.Inc()
	m.TrainingLoss.Set(loss)
	m.RewardMean.Set(rewardMean)
	m.RewardStd.Set(rewardStd)
	m.LearningRate.Set(lr)
}

// ObserveUpdate records one optimizer step.
func (m *Metrics) ObserveUpdate() {
	if m == nil {
		return
	}
	m.TrainingUpdates.Inc()
}

// ObserveRun records the final status of a training run.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(status).Inc()
}

// ObservePrediction records one prediction and how long it took.
func (m *Metrics) ObservePrediction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(outcome).Inc()
	m.PredictionLatency.Observe(d.Seconds())
}

// SetModelLoaded flips the model-loaded gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}
