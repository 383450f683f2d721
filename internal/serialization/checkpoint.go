package serialization

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// CheckpointExt is the file extension of checkpoints.
const CheckpointExt = ".ocnn"

// Tensor name prefixes separating model and optimizer state.
const (
	modelPrefix = "model."
	optimPrefix = "optim."
)

// Checkpoint is the training state saved after an epoch.
type Checkpoint struct {
	Epoch         int
	Step          int64
	Loss          float64
	ModelType     string
	OptimizerType string
	LR            float64
	Model         map[string]*mat.Dense
	Optimizer     map[string]*mat.Dense
	Metadata      map[string]string
}

// CheckpointPath returns <dir>/<epoch:05d>.ocnn.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%05d%s", epoch, CheckpointExt))
}

// SaveCheckpoint writes ck to path.
func SaveCheckpoint(path string, ck *Checkpoint) error {
	state := make(map[string]*mat.Dense, len(ck.Model)+len(ck.Optimizer))
	for k, v := range ck.Model {
		state[modelPrefix+k] = v
	}
	for k, v := range ck.Optimizer {
		state[optimPrefix+k] = v
	}
	header := Header{
		ModelType: ck.ModelType,
		Metadata:  ck.Metadata,
		CheckpointMeta: &CheckpointMeta{
			Epoch:         ck.Epoch,
			Step:          ck.Step,
			Loss:          ck.Loss,
			OptimizerType: ck.OptimizerType,
			LR:            ck.LR,
		},
	}
	if err := WriteFile(path, state, header); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint. Files
// without checkpoint metadata load as epoch 0 with model weights only.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	state, header, err := ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	ck := &Checkpoint{
		ModelType: header.ModelType,
		Metadata:  header.Metadata,
		Model:     make(map[string]*mat.Dense),
		Optimizer: make(map[string]*mat.Dense),
	}
	if m := header.CheckpointMeta; m != nil {
		ck.Epoch, ck.Step, ck.Loss = m.Epoch, m.Step, m.Loss
		ck.OptimizerType, ck.LR = m.OptimizerType, m.LR
	}
	for name, v := range state {
		switch {
		case strings.HasPrefix(name, modelPrefix):
			ck.Model[strings.TrimPrefix(name, modelPrefix)] = v
		case strings.HasPrefix(name, optimPrefix):
			ck.Optimizer[strings.TrimPrefix(name, optimPrefix)] = v
		}
	}
	return ck, nil
}

// ListCheckpoints returns the checkpoint files in dir ordered by epoch.
// A missing directory yields an empty list.
func ListCheckpoints(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	type item struct {
		epoch int
		path  string
	}
	var items []item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, CheckpointExt) {
			continue
		}
		epoch, err := strconv.Atoi(strings.TrimSuffix(name, CheckpointExt))
		if err != nil {
			continue
		}
		items = append(items, item{epoch, filepath.Join(dir, name)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].epoch < items[j].epoch })

	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.path
	}
	return paths, nil
}

// LatestCheckpoint returns the newest checkpoint in dir or ErrNoCheckpoint.
func LatestCheckpoint(dir string) (string, error) {
	paths, err := ListCheckpoints(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	return paths[len(paths)-1], nil
}

// PruneCheckpoints removes all but the keep newest checkpoints in dir and
// returns the removed paths. keep <= 0 keeps everything.
func PruneCheckpoints(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	paths, err := ListCheckpoints(dir)
	if err != nil || len(paths) <= keep {
		return nil, err
	}
	stale := paths[:len(paths)-keep]
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("prune checkpoint: %w", err)
		}
	}
	return stale, nil
}
