// Package autoencoder trains and evaluates an octree point-cloud
// autoencoder: it supplies the solver hooks, the composite loss wiring and
// the reconstruction writer.
package autoencoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/ocnn/internal/dataset"
	"github.com/born-ml/ocnn/internal/loss"
	"github.com/born-ml/ocnn/internal/model"
	"github.com/born-ml/ocnn/internal/points"
	"github.com/born-ml/ocnn/internal/solver"
)

// Output file suffixes of EvalStep.
const (
	InSuffix   = ".in.xyz"
	OutSuffix  = ".out.xyz"
	HTMLSuffix = ".html"
)

// Hooks implements solver.Hooks for the autoencoder.
type Hooks struct {
	cfg    *solver.Config
	logger *slog.Logger
}

var _ solver.Hooks = (*Hooks)(nil)

// New returns the autoencoder hooks for cfg.
func New(cfg *solver.Config, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Loss.Parallel = cfg.Parallel()
	return &Hooks{cfg: cfg, logger: logger}
}

// Model builds the baseline AutoEncoder.
func (h *Hooks) Model(cfg *solver.Config) (model.Trainable, error) {
	return model.NewAutoEncoder(cfg.Model)
}

// Dataset builds the train or test point-cloud dataset.
func (h *Hooks) Dataset(cfg *solver.Config, train bool) (*dataset.Dataset, error) {
	if train {
		return dataset.New(cfg.Data.Train)
	}
	dc := cfg.Data.Test
	dc.Jitter = 0
	return dataset.New(dc)
}

// ModelForward runs the model on the structure of the input octree and
// evaluates the composite loss.
func (h *Hooks) ModelForward(m model.Model, b *dataset.Batch) (*loss.Result, error) {
	out, err := m.Forward(b.Octree, false)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	return loss.Compute(b.Octree, out, h.cfg.Loss, h.logger)
}

// TrainStep returns the loss terms prefixed with "train/".
func (h *Hooks) TrainStep(_ context.Context, m model.Model, b *dataset.Batch) (*loss.Result, error) {
	res, err := h.ModelForward(m, b)
	if err != nil {
		return nil, err
	}
	res.Terms = res.Terms.Prefixed("train/")
	return res, nil
}

// TestStep returns the loss terms prefixed with "test/".
func (h *Hooks) TestStep(_ context.Context, m model.Model, b *dataset.Batch) (loss.Output, error) {
	res, err := h.ModelForward(m, b)
	if err != nil {
		return nil, err
	}
	return res.Terms.Prefixed("test/"), nil
}

// EvalStep grows an octree from the predicted occupancy and writes the
// input and reconstructed clouds of every sample under the log directory.
func (h *Hooks) EvalStep(ctx context.Context, m model.Model, b *dataset.Batch) error {
	out, err := m.Forward(b.Octree, true)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	clouds, err := Octree2Points(out.OctreeOut)
	if err != nil {
		return err
	}
	if len(clouds) != b.Size() {
		return fmt.Errorf("reconstructed %d clouds for %d samples", len(clouds), b.Size())
	}

	for i, name := range b.Filenames {
		if err := ctx.Err(); err != nil {
			return err
		}
		base := filepath.Join(h.cfg.Solver.Logdir, StripSuffix(name))
		if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		if err := points.Save(base+InSuffix, b.Points[i]); err != nil {
			return err
		}
		if err := points.Save(base+OutSuffix, clouds[i]); err != nil {
			return err
		}
		if h.cfg.Eval.RenderHTML {
			if err := RenderHTML(base+HTMLSuffix, name, b.Points[i], clouds[i]); err != nil {
				return err
			}
		}
		h.logger.Debug("reconstruction written", "sample", name, "points", clouds[i].Len())
	}
	return nil
}

// StripSuffix removes everything from the last "." of name. Names without
// a "." are returned unchanged.
func StripSuffix(name string) string {
	if pos := strings.LastIndex(name, "."); pos != -1 {
		return name[:pos]
	}
	return name
}
