package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/kryptictrack/internal/config"
	"github.com/danielpatrickdp/kryptictrack/internal/explain"
	"github.com/danielpatrickdp/kryptictrack/internal/logging"
	"github.com/danielpatrickdp/kryptictrack/internal/manager"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger = zap.NewNop()
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "irl",
	Short: "Learn a reward model from logged user actions and predict the next one",
	Long: `irl replays the local action log into (state, action) demonstrations,
trains a reward model on them, and ranks candidate next actions with it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Verbose = true
		}
		logger, err = logging.New(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KRYPTICTRACK_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(exportFixtureCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(recordCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
// #endregion root

// #region helpers
func openStore() (*store.Store, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newManager builds a manager that records predictions in st and loads the
// latest checkpoint. The returned func releases the explainer.
func newManager(st *store.Store, m *metrics.Metrics) (*manager.Manager, func(), error) {
	ex, err := explain.New(cfg.Explainer, logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if c, ok := ex.(io.Closer); ok {
		release = func() { _ = c.Close() }
	}
	mgr := manager.New(cfg.ManagerConfig(),
		manager.WithLogger(logger),
		manager.WithExplainer(ex),
		manager.WithRecorder(st),
		manager.WithMetrics(m),
	)
	if !mgr.LoadLatestModel() {
		logger.Warn("no usable checkpoint", zap.String("dir", cfg.Checkpoints.Dir))
	}
	return mgr, release, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
// #endregion helpers
