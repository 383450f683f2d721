// Package solver drives training, testing and evaluation of an octree
// model. Task-specific behavior is supplied through Hooks.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/ocnn/internal/dataset"
	"github.com/born-ml/ocnn/internal/loss"
	"github.com/born-ml/ocnn/internal/model"
	"github.com/born-ml/ocnn/internal/optim"
	"github.com/born-ml/ocnn/internal/parallel"
	"github.com/born-ml/ocnn/internal/serialization"
	"github.com/born-ml/ocnn/internal/summary"
)

// Layout of a log directory.
const (
	CheckpointDir = "checkpoints"
	SummaryFile   = "summary.db"
)

// LRKey is the summary tag of the learning rate.
const LRKey = "train/lr"

// Hooks supplies the task-specific parts of a run.
type Hooks interface {
	// Model builds the network.
	Model(cfg *Config) (model.Trainable, error)

	// Dataset builds the train or test dataset.
	Dataset(cfg *Config, train bool) (*dataset.Dataset, error)

	// TrainStep runs a forward pass on a training batch. The returned
	// terms are prefixed with "train/"; the gradients are applied by the
	// solver.
	TrainStep(ctx context.Context, m model.Model, b *dataset.Batch) (*loss.Result, error)

	// TestStep runs a forward pass on a test batch and returns terms
	// prefixed with "test/".
	TestStep(ctx context.Context, m model.Model, b *dataset.Batch) (loss.Output, error)

	// EvalStep reconstructs a batch and writes its outputs.
	EvalStep(ctx context.Context, m model.Model, b *dataset.Batch) error
}

// Solver runs one configured mode.
type Solver struct {
	cfg    *Config
	hooks  Hooks
	logger *slog.Logger
	par    parallel.Config

	model model.Trainable
	opt   optim.Optimizer
	sched *optim.Scheduler
	store *summary.Store
	runID string

	epoch int   // Last completed epoch
	step  int64 // Optimizer steps taken
}

// New creates a solver. A nil logger uses slog.Default.
func New(cfg *Config, hooks Hooks, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{cfg: cfg, hooks: hooks, logger: logger, par: cfg.Parallel()}
}

// Epoch returns the last completed training epoch.
func (s *Solver) Epoch() int { return s.epoch }

// Step returns the number of optimizer steps taken.
func (s *Solver) Step() int64 { return s.step }

// Model returns the network, or nil before Run.
func (s *Solver) Model() model.Trainable { return s.model }

// RunID returns the summary run id, or "" before Run.
func (s *Solver) RunID() string { return s.runID }

// Run executes the configured mode.
func (s *Solver) Run(ctx context.Context) (err error) {
	if err := s.setup(); err != nil {
		return err
	}
	defer func() {
		if ferr := s.store.FinishRun(s.runID); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch s.cfg.Solver.Run {
	case RunTrain:
		return s.train(ctx)
	case RunTest:
		return s.test(ctx)
	case RunEvaluate:
		return s.evaluate(ctx)
	default:
		return fmt.Errorf("%w: solver.run %q", ErrInvalidConfig, s.cfg.Solver.Run)
	}
}

func (s *Solver) setup() error {
	logdir := s.cfg.Solver.Logdir
	if err := os.MkdirAll(logdir, 0o755); err != nil {
		return fmt.Errorf("create logdir: %w", err)
	}
	brand, physical, logical := parallel.Describe()
	s.logger.Info("solver starting",
		"run", s.cfg.Solver.Run,
		"logdir", logdir,
		"cpu", brand,
		"cores", physical,
		"threads", logical,
		"workers", s.par.NumWorkers)

	m, err := s.hooks.Model(s.cfg)
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}
	s.model = m

	s.opt, err = optim.New(m.Parameters(), s.cfg.OptimizerConfig())
	if err != nil {
		return err
	}
	s.sched, err = optim.NewScheduler(s.cfg.Schedule())
	if err != nil {
		return err
	}

	s.store, err = summary.Open(filepath.Join(logdir, SummaryFile), s.logger)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(s.cfg)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	s.runID, err = s.store.StartRun(s.cfg.Solver.Run, logdir, string(raw))
	if err != nil {
		_ = s.store.Close()
		return err
	}
	return nil
}

func (s *Solver) loader(train bool) (*dataset.Loader, error) {
	ds, err := s.hooks.Dataset(s.cfg, train)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	return dataset.NewLoader(ds, s.par), nil
}

// loadCheckpoint restores the explicit checkpoint or the newest one in the
// log directory. Without either it reports false.
func (s *Solver) loadCheckpoint(withOptimizer bool) (bool, error) {
	path := s.cfg.Solver.Ckpt
	if path == "" {
		latest, err := serialization.LatestCheckpoint(filepath.Join(s.cfg.Solver.Logdir, CheckpointDir))
		if errors.Is(err, serialization.ErrNoCheckpoint) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		path = latest
	}

	ck, err := serialization.LoadCheckpoint(path)
	if err != nil {
		return false, err
	}
	if err := s.model.LoadStateDict(ck.Model); err != nil {
		return false, fmt.Errorf("restore model from %s: %w", path, err)
	}
	if withOptimizer && len(ck.Optimizer) > 0 {
		if err := s.opt.LoadStateDict(ck.Optimizer); err != nil {
			return false, fmt.Errorf("restore optimizer from %s: %w", path, err)
		}
	}
	s.epoch = ck.Epoch
	s.step = ck.Step
	s.logger.Info("checkpoint loaded", "path", path, "epoch", ck.Epoch, "step", ck.Step)
	return true, nil
}

func (s *Solver) saveCheckpoint(avgLoss float64) error {
	dir := filepath.Join(s.cfg.Solver.Logdir, CheckpointDir)
	path := serialization.CheckpointPath(dir, s.epoch)
	ck := &serialization.Checkpoint{
		Epoch:         s.epoch,
		Step:          s.step,
		Loss:          avgLoss,
		ModelType:     fmt.Sprintf("%T", s.model),
		OptimizerType: s.cfg.Solver.Optimizer,
		LR:            s.opt.LR(),
		Model:         s.model.StateDict(),
		Optimizer:     s.opt.StateDict(),
		Metadata:      map[string]string{"run_id": s.runID},
	}
	if err := serialization.SaveCheckpoint(path, ck); err != nil {
		return err
	}
	removed, err := serialization.PruneCheckpoints(dir, s.cfg.Solver.CkptNum)
	if err != nil {
		return err
	}
	s.logger.Debug("checkpoint saved", "path", path, "pruned", len(removed))
	return nil
}

func (s *Solver) train(ctx context.Context) error {
	trainLoader, err := s.loader(true)
	if err != nil {
		return err
	}
	var testLoader *dataset.Loader
	if s.cfg.Solver.TestEveryEpoch > 0 {
		if testLoader, err = s.loader(false); err != nil {
			return err
		}
	}
	if _, err := s.loadCheckpoint(true); err != nil {
		return err
	}
	s.opt.ZeroGrad()

	for epoch := s.epoch + 1; epoch <= s.cfg.Solver.MaxEpoch; epoch++ {
		lr := s.sched.Apply(s.opt, epoch)
		start := time.Now()

		avg, err := s.trainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			return err
		}
		avg[LRKey] = lr
		s.logger.Info("train epoch", append([]any{"epoch", epoch, "elapsed", time.Since(start).Round(time.Millisecond)}, Attrs(avg)...)...)
		if err := s.store.AddScalars(s.runID, epoch, avg); err != nil {
			return err
		}

		if testLoader != nil && (epoch%s.cfg.Solver.TestEveryEpoch == 0 || epoch == s.cfg.Solver.MaxEpoch) {
			testAvg, err := s.testEpoch(ctx, testLoader, epoch)
			if err != nil {
				return err
			}
			s.logger.Info("test epoch", append([]any{"epoch", epoch}, Attrs(testAvg)...)...)
			if err := s.store.AddScalars(s.runID, epoch, testAvg); err != nil {
				return err
			}
		}

		s.epoch = epoch
		if err := s.saveCheckpoint(avg["train/"+loss.KeyTotal]); err != nil {
			return err
		}
	}

	curves := filepath.Join(s.cfg.Solver.Logdir, summary.CurveFile)
	err = s.store.PlotRun(s.runID, curves, func(tag string) bool {
		return strings.HasSuffix(tag, "/"+loss.KeyTotal)
	})
	if err != nil && !errors.Is(err, summary.ErrNoSeries) {
		return err
	}
	return nil
}

func (s *Solver) trainEpoch(ctx context.Context, l *dataset.Loader, epoch int) (loss.Output, error) {
	tracker := NewAverageTracker()
	for i := 0; i < l.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := l.Batch(ctx, epoch, i)
		if err != nil {
			return nil, err
		}
		res, err := s.hooks.TrainStep(ctx, s.model, batch)
		if err != nil {
			return nil, fmt.Errorf("train step %d: %w", i, err)
		}
		if err := s.model.Backward(res.Grads); err != nil {
			return nil, fmt.Errorf("backward step %d: %w", i, err)
		}
		s.opt.Step()
		s.opt.ZeroGrad()
		s.step++
		tracker.Update(res.Terms)

		if n := s.cfg.Solver.LogPerIter; n > 0 && (i+1)%n == 0 {
			s.logger.Info("train iter", append([]any{"epoch", epoch, "iter", i + 1, "of", l.Len()}, Attrs(tracker.Average())...)...)
		}
	}
	return tracker.Average(), nil
}

func (s *Solver) testEpoch(ctx context.Context, l *dataset.Loader, epoch int) (loss.Output, error) {
	tracker := NewAverageTracker()
	for i := 0; i < l.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := l.Batch(ctx, epoch, i)
		if err != nil {
			return nil, err
		}
		out, err := s.hooks.TestStep(ctx, s.model, batch)
		if err != nil {
			return nil, fmt.Errorf("test step %d: %w", i, err)
		}
		tracker.Update(out)
	}
	return tracker.Average(), nil
}

func (s *Solver) test(ctx context.Context) error {
	l, err := s.loader(false)
	if err != nil {
		return err
	}
	ok, err := s.loadCheckpoint(false)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("no checkpoint found, testing initial weights")
	}
	avg, err := s.testEpoch(ctx, l, s.epoch)
	if err != nil {
		return err
	}
	s.logger.Info("test", append([]any{"epoch", s.epoch}, Attrs(avg)...)...)
	return s.store.AddScalars(s.runID, s.epoch, avg)
}

func (s *Solver) evaluate(ctx context.Context) error {
	l, err := s.loader(false)
	if err != nil {
		return err
	}
	ok, err := s.loadCheckpoint(false)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("no checkpoint found, evaluating initial weights")
	}
	for e := 0; e < s.cfg.Solver.EvalEpoch; e++ {
		for i := 0; i < l.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := l.Batch(ctx, e, i)
			if err != nil {
				return err
			}
			if err := s.hooks.EvalStep(ctx, s.model, batch); err != nil {
				return fmt.Errorf("eval step %d: %w", i, err)
			}
		}
		s.logger.Info("evaluate pass done", "pass", e+1, "of", s.cfg.Solver.EvalEpoch, "batches", l.Len())
	}
	return nil
}
