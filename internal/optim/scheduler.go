package optim

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownSchedule is returned for an unsupported learning rate schedule.
var ErrUnknownSchedule = errors.New("unknown lr schedule")

// ScheduleConfig describes an epoch-based learning rate schedule.
type ScheduleConfig struct {
	Type       string  // "constant", "step", "cos" or "poly"
	BaseLR     float64 // Learning rate at epoch 1
	MaxEpoch   int     // Total epochs (cos, poly)
	Milestones []int   // Epochs at which the step schedule decays
	Gamma      float64 // Step decay factor (default: 0.1)
	Power      float64 // Poly exponent (default: 0.9)
	MinLR      float64 // Floor for cos and poly
}

// Scheduler computes the learning rate for an epoch.
//
// Epochs are 1-based; epoch 1 always uses BaseLR.
type Scheduler struct {
	cfg ScheduleConfig
}

// NewScheduler validates cfg and fills in defaults.
func NewScheduler(cfg ScheduleConfig) (*Scheduler, error) {
	switch cfg.Type {
	case "":
		cfg.Type = "constant"
	case "constant", "step", "cos", "poly":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, cfg.Type)
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = 0.1
	}
	if cfg.Power == 0 {
		cfg.Power = 0.9
	}
	if (cfg.Type == "cos" || cfg.Type == "poly") && cfg.MaxEpoch <= 0 {
		return nil, fmt.Errorf("%s schedule requires max epoch > 0, got %d", cfg.Type, cfg.MaxEpoch)
	}
	return &Scheduler{cfg: cfg}, nil
}

// LR returns the learning rate for the given epoch.
func (s *Scheduler) LR(epoch int) float64 {
	c := s.cfg
	e := float64(epoch - 1)
	switch c.Type {
	case "step":
		lr := c.BaseLR
		for _, m := range c.Milestones {
			if epoch > m {
				lr *= c.Gamma
			}
		}
		return lr
	case "cos":
		frac := math.Min(e/float64(c.MaxEpoch), 1)
		return c.MinLR + 0.5*(c.BaseLR-c.MinLR)*(1+math.Cos(math.Pi*frac))
	case "poly":
		frac := math.Min(e/float64(c.MaxEpoch), 1)
		return c.MinLR + (c.BaseLR-c.MinLR)*math.Pow(1-frac, c.Power)
	default:
		return c.BaseLR
	}
}

// Apply sets the optimizer learning rate for epoch and returns it.
func (s *Scheduler) Apply(opt Optimizer, epoch int) float64 {
	lr := s.LR(epoch)
	opt.SetLR(lr)
	return lr
}
