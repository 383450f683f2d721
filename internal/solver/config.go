package solver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/ocnn/internal/dataset"
	"github.com/born-ml/ocnn/internal/loss"
	"github.com/born-ml/ocnn/internal/model"
	"github.com/born-ml/ocnn/internal/optim"
	"github.com/born-ml/ocnn/internal/parallel"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Run modes.
const (
	RunTrain    = "train"
	RunTest     = "test"
	RunEvaluate = "evaluate"
)

// Config is the full configuration of a solver run.
type Config struct {
	Solver SolverConfig `yaml:"solver"`
	Data   DataConfig   `yaml:"data"`
	Model  model.Config `yaml:"model"`
	Loss   loss.Config  `yaml:"loss"`
	Eval   EvalConfig   `yaml:"eval"`
	Log    LogConfig    `yaml:"log"`
}

// SolverConfig controls the training loop.
type SolverConfig struct {
	Run            string  `yaml:"run"`              // train, test or evaluate
	Logdir         string  `yaml:"logdir"`           // Output directory
	MaxEpoch       int     `yaml:"max_epoch"`        // Training epochs
	TestEveryEpoch int     `yaml:"test_every_epoch"` // Test interval; 0 disables testing during training
	LogPerIter     int     `yaml:"log_per_iter"`     // Iteration log interval; 0 disables
	CkptNum        int     `yaml:"ckpt_num"`         // Checkpoints to keep; 0 keeps all
	Ckpt           string  `yaml:"ckpt"`             // Checkpoint to resume from; empty picks the newest in logdir
	EvalEpoch      int     `yaml:"eval_epoch"`       // Passes over the test set in evaluate mode
	Optimizer      string  `yaml:"type"`             // adam or sgd
	LR             float64 `yaml:"lr"`
	LRType         string  `yaml:"lr_type"` // constant, step, cos or poly
	Milestones     []int   `yaml:"milestones"`
	Gamma          float64 `yaml:"gamma"`
	Momentum       float64 `yaml:"momentum"`
	WeightDecay    float64 `yaml:"weight_decay"`
	Workers        int     `yaml:"workers"` // Worker goroutines; 0 uses the physical core count
}

// DataConfig holds the train and test datasets.
type DataConfig struct {
	Train dataset.Config `yaml:"train"`
	Test  dataset.Config `yaml:"test"`
}

// EvalConfig controls evaluation outputs.
type EvalConfig struct {
	RenderHTML bool `yaml:"render_html"` // Write an HTML scatter per sample
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Solver: SolverConfig{
			Run:            RunTrain,
			Logdir:         "logs/ae",
			MaxEpoch:       100,
			TestEveryEpoch: 10,
			LogPerIter:     50,
			CkptNum:        10,
			EvalEpoch:      1,
			Optimizer:      "adam",
			LR:             1e-3,
			LRType:         "step",
			Milestones:     []int{60, 90},
			Gamma:          0.1,
			Momentum:       0.9,
		},
		Data: DataConfig{
			Train: dataset.Config{BatchSize: 16, Shuffle: true, Scale: 1},
			Test:  dataset.Config{BatchSize: 16, Scale: 1},
		},
		Model: model.Config{
			ChannelIn:  4,
			ChannelOut: 4,
			Depth:      6,
			FullDepth:  2,
			Feature:    "ND",
		},
		Loss: loss.DefaultConfig(),
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config over the defaults and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML config from r over the defaults and validates it.
func Decode(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills derived fields and checks consistency.
func (c *Config) Validate() error {
	switch c.Solver.Run {
	case RunTrain, RunTest, RunEvaluate:
	default:
		return fmt.Errorf("%w: solver.run %q", ErrInvalidConfig, c.Solver.Run)
	}
	if c.Solver.Logdir == "" {
		return fmt.Errorf("%w: solver.logdir is empty", ErrInvalidConfig)
	}
	if c.Solver.MaxEpoch < 1 {
		return fmt.Errorf("%w: solver.max_epoch %d", ErrInvalidConfig, c.Solver.MaxEpoch)
	}
	if c.Solver.TestEveryEpoch < 0 || c.Solver.LogPerIter < 0 || c.Solver.CkptNum < 0 || c.Solver.EvalEpoch < 0 {
		return fmt.Errorf("%w: negative solver interval", ErrInvalidConfig)
	}
	if c.Solver.LR <= 0 {
		return fmt.Errorf("%w: solver.lr %g", ErrInvalidConfig, c.Solver.LR)
	}
	if _, err := optim.NewScheduler(c.Schedule()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := c.Model.Validate(); err != nil {
		return err
	}
	for _, ds := range []*dataset.Config{&c.Data.Train, &c.Data.Test} {
		if ds.Depth == 0 {
			ds.Depth = c.Model.Depth
		}
		if ds.FullDepth == 0 {
			ds.FullDepth = c.Model.FullDepth
		}
		if ds.Depth != c.Model.Depth || ds.FullDepth != c.Model.FullDepth {
			return fmt.Errorf("%w: data depth %d/%d differs from model depth %d/%d",
				ErrInvalidConfig, ds.Depth, ds.FullDepth, c.Model.Depth, c.Model.FullDepth)
		}
	}

	if c.Loss.DensitySamples < 1 || c.Loss.DensityDepth < 1 || c.Loss.DensityWeight < 0 {
		return fmt.Errorf("%w: loss %+v", ErrInvalidConfig, c.Loss)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Schedule returns the learning rate schedule of the solver section.
func (c *Config) Schedule() optim.ScheduleConfig {
	return optim.ScheduleConfig{
		Type:       c.Solver.LRType,
		BaseLR:     c.Solver.LR,
		MaxEpoch:   c.Solver.MaxEpoch,
		Milestones: c.Solver.Milestones,
		Gamma:      c.Solver.Gamma,
	}
}

// OptimizerConfig returns the optimizer settings of the solver section.
func (c *Config) OptimizerConfig() optim.Config {
	return optim.Config{
		Type:        c.Solver.Optimizer,
		LR:          c.Solver.LR,
		Momentum:    c.Solver.Momentum,
		WeightDecay: c.Solver.WeightDecay,
	}
}

// Parallel returns the worker configuration.
func (c *Config) Parallel() parallel.Config {
	p := parallel.DefaultConfig()
	if c.Solver.Workers > 0 {
		p.NumWorkers = c.Solver.Workers
		p.Enabled = p.NumWorkers > 1
	}
	if !p.Enabled {
		return parallel.Sequential()
	}
	return p
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, s)
	}
	return level, nil
}
