package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

const (
	filePrefix = "reward_model_"
	fileExt    = ".json"
	timeLayout = "20060102_150405"
)

var (
	// ErrNoCheckpoint is returned by Latest when the directory holds no checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	// ErrCatalogMismatch marks a checkpoint trained against another candidate catalog.
	ErrCatalogMismatch = errors.New("candidate catalog mismatch")
)

// #region types
// TrainingInfo summarizes the run that produced a checkpoint.
type TrainingInfo struct {
	RunID     string  `json:"run_id,omitempty"`
	EpochsRun int     `json:"epochs_run"`
	BestEpoch int     `json:"best_epoch"`
	BestLoss  float64 `json:"best_loss"`
	Samples   int     `json:"samples"`
}

// Checkpoint is the persisted form of a trained reward model.
type Checkpoint struct {
	Version       int                  `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	StateDim      int                  `json:"state_dim"`
	ActionDim     int                  `json:"action_dim"`
	Hidden        []int                `json:"hidden"`
	Dropout       float64              `json:"dropout"`
	Reward        reward.Params        `json:"reward"`
	Policy        *reward.PolicyParams `json:"policy,omitempty"`
	Normalization reward.Normalization `json:"normalization"`
	Catalog       []string             `json:"catalog"`
	CatalogDigest string               `json:"catalog_digest"`
	Training      TrainingInfo         `json:"training"`
}

// New assembles a checkpoint for the current catalog.
func New(cfg reward.Config, params reward.Params, norm reward.Normalization) *Checkpoint {
	return &Checkpoint{
		Version:       FormatVersion,
		CreatedAt:     time.Now().UTC(),
		StateDim:      cfg.StateDim,
		ActionDim:     cfg.ActionDim,
		Hidden:        slices.Clone(cfg.Hidden),
		Dropout:       cfg.Dropout,
		Reward:        params,
		Normalization: norm,
		Catalog:       slices.Clone(action.Catalog),
		CatalogDigest: action.CatalogDigest(),
	}
}

// RewardConfig returns the network shape recorded in the checkpoint.
func (c *Checkpoint) RewardConfig() reward.Config {
	return reward.Config{
		StateDim:  c.StateDim,
		ActionDim: c.ActionDim,
		Hidden:    slices.Clone(c.Hidden),
		Dropout:   c.Dropout,
	}
}

// Validate checks shapes, normalization and the catalog digest.
func (c *Checkpoint) Validate() error {
	if c.Version != FormatVersion {
		return fmt.Errorf("unsupported checkpoint version %d", c.Version)
	}
	cfg := c.RewardConfig()
	if err := c.Reward.Validate(cfg); err != nil {
		return fmt.Errorf("reward params: %w", err)
	}
	if !c.Reward.Finite() {
		return errors.New("reward params contain NaN or Inf")
	}
	if err := c.Normalization.Validate(c.StateDim, c.ActionDim); err != nil {
		return err
	}
	if c.Policy != nil {
		if _, err := reward.PolicyFromParams(*c.Policy); err != nil {
			return err
		}
		if c.Policy.StateDim != c.StateDim {
			return errors.New("policy state width does not match checkpoint")
		}
	}
	if c.CatalogDigest != action.CatalogDigest() {
		return fmt.Errorf("%w: checkpoint %s, current %s", ErrCatalogMismatch, c.CatalogDigest, action.CatalogDigest())
	}
	return nil
}

// Scorer rebuilds the model and pairs it with its normalization.
func (c *Checkpoint) Scorer() (*reward.Scorer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m, err := reward.NewModelFromParams(c.RewardConfig(), c.Reward)
	if err != nil {
		return nil, err
	}
	return &reward.Scorer{Model: m, Norm: c.Normalization}, nil
}
// #endregion types

// #region save
// Save writes c to path atomically: the document goes to a temp file in the
// same directory, is fsynced, and is renamed over path.
func Save(path string, c *Checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".reward_model_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
// #endregion save

// #region load
// Load reads and validates a checkpoint.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", filepath.Base(path), err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", filepath.Base(path), err)
	}
	return &c, nil
}
// #endregion load

// #region naming
// FileName returns the conventional checkpoint file name for t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(timeLayout) + fileExt
}

// TaggedFileName is FileName with a suffix, for runs that may finish within
// the same second.
func TaggedFileName(t time.Time, tag string) string {
	if tag == "" {
		return FileName(t)
	}
	return filePrefix + t.Format(timeLayout) + "_" + tag + fileExt
}

// Latest returns the most recently modified checkpoint in dir. Ties go to
// the lexically greatest name, which is also the newest timestamp.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileExt))
	if err != nil {
		return "", fmt.Errorf("glob checkpoints: %w", err)
	}
	var best string
	var bestMod time.Time
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && m > best) {
			best, bestMod = m, mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	return best, nil
}
// #endregion naming
