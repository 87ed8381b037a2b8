package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/kryptictrack/internal/events"
	"github.com/danielpatrickdp/kryptictrack/internal/jobs"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
)

var (
	trainEpochs      int
	trainIncremental bool
	trainNotes       string
	trainMetricsAddr string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the reward model on the action log",
	Long: `Replays the action log into demonstrations and trains a new reward model.
The best checkpoint is written to the checkpoint directory. Ctrl-C stops
training and keeps the best epoch seen so far.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Override training.epochs")
	trainCmd.Flags().BoolVar(&trainIncremental, "incremental", false, "Train only on actions after the last completed run")
	trainCmd.Flags().StringVar(&trainNotes, "notes", "", "Free-form notes stored with the run")
	trainCmd.Flags().StringVar(&trainMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default metrics.addr)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	addr := trainMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(addr, m)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	opts := []jobs.Option{
		jobs.WithLogger(logger),
		jobs.WithMetrics(m),
		jobs.WithProvenance(st.DB()),
	}
	if cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(cfg.NATS, logger)
		if err != nil {
			logger.Warn("progress events disabled", zap.Error(err))
		} else {
			defer pub.Close()
			opts = append(opts, jobs.WithSink(pub))
		}
	}
	runner := jobs.NewRunner(cfg.JobsConfig(), st, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := runner.Start(ctx, jobs.Request{
		Epochs:      trainEpochs,
		Incremental: trainIncremental,
		Notes:       trainNotes,
	})
	if err != nil {
		return err
	}
	logger.Info("training", zap.String("run_id", runID), zap.String("db", cfg.Database.Path))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupt received, stopping after the current batch")
			runner.Stop()
		case <-done:
		}
	}()
	runner.Wait()
	close(done)

	status := runner.Status()
	if err := printJSON(cmd, status); err != nil {
		return err
	}
	if status.Phase == jobs.PhaseFailed {
		return fmt.Errorf("training failed: %s", status.Error)
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
