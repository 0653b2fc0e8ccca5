package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/encoder"
	"NeuralRoulette/pkg/logger"
)

// CheckpointVersion changes whenever the parameter layout changes.
const CheckpointVersion = 1

type checkpoint struct {
	FormatVersion int            `json:"format_version"`
	Profile       Profile        `json:"profile"`
	Scheme        encoder.Scheme `json:"scheme"`
	Meta          TrainingMeta   `json:"meta"`
	Params        []float64      `json:"params"`
	Adam          adamState      `json:"adam"`
	SavedAt       time.Time      `json:"saved_at"`
}

// Load restores the checkpoint at path. A missing file yields a freshly
// initialised model and fresh=true. A checkpoint written for another profile,
// scheme or format fails with ErrIncompatibleCheckpoint.
func (m *Manager) Load(path string) (fresh bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		m.Init()
		m.log.Info("no checkpoint found, starting fresh model",
			logger.String("path", path),
			logger.Int("params", m.profile.NumParams()),
		)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", models.ErrIncompatibleCheckpoint, path, err)
	}
	if err := m.compatible(&cp); err != nil {
		return false, fmt.Errorf("%w: %s: %v", models.ErrIncompatibleCheckpoint, path, err)
	}

	m.mu.Lock()
	m.params = newTensors(m.profile, cp.Params)
	m.adam = &adamState{M: cp.Adam.M, V: cp.Adam.V, T: cp.Adam.T}
	m.meta = cp.Meta
	m.rng = newRand(m.seed + cp.Meta.Steps)
	m.mu.Unlock()

	m.log.Info("checkpoint loaded",
		logger.String("path", path),
		logger.Int64("steps", cp.Meta.Steps),
		logger.Int64("epochs", cp.Meta.Epochs),
	)
	return false, nil
}

func (m *Manager) compatible(cp *checkpoint) error {
	n := m.profile.NumParams()
	switch {
	case cp.FormatVersion != CheckpointVersion:
		return fmt.Errorf("format version %d, want %d", cp.FormatVersion, CheckpointVersion)
	case cp.Profile != m.profile:
		return fmt.Errorf("profile %+v, want %+v", cp.Profile, m.profile)
	case cp.Scheme != m.scheme:
		return fmt.Errorf("scheme %q, want %q", cp.Scheme, m.scheme)
	case len(cp.Params) != n:
		return fmt.Errorf("%d params, want %d", len(cp.Params), n)
	case len(cp.Adam.M) != n || len(cp.Adam.V) != n:
		return fmt.Errorf("optimizer state has %d/%d entries, want %d", len(cp.Adam.M), len(cp.Adam.V), n)
	case !allFinite(cp.Params):
		return errors.New("parameters are not finite")
	}
	return nil
}

// Checkpoint writes the model atomically: a temp file is written and synced,
// then renamed over path.
func (m *Manager) Checkpoint(path string) error {
	m.mu.Lock()
	if m.params == nil {
		m.mu.Unlock()
		return models.ErrModelNotInitialized
	}
	cp := checkpoint{
		FormatVersion: CheckpointVersion,
		Profile:       m.profile,
		Scheme:        m.scheme,
		Meta:          m.meta,
		Params:        m.params.data,
		Adam:          *m.adam,
		SavedAt:       time.Now().UTC(),
	}
	raw, err := json.Marshal(cp)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmp := f.Name()
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	m.log.Debug("checkpoint saved",
		logger.String("path", path),
		logger.Int64("steps", cp.Meta.Steps),
		logger.Int("bytes", len(raw)),
	)
	return nil
}
