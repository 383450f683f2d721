package optim

import (
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// A non-zero WeightDecay adds weightDecay * param to the gradient first.
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
type SGD struct {
	params      []*nn.Parameter
	lr          float64
	momentum    float64
	weightDecay float64
	velocities  map[string][]float64
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float64 // Learning rate (default: 0.01)
	Momentum    float64 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float64 // L2 penalty (default: 0)
}

// NewSGD creates a new SGD optimizer.
//
// Parameters:
//   - params: Model parameters to optimize
//   - config: SGD configuration (LR, Momentum, WeightDecay)
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[string][]float64),
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient are skipped.
func (s *SGD) Step() {
	for _, p := range s.params {
		grad := effectiveGrad(p, s.weightDecay)
		if grad == nil {
			continue
		}
		w := p.Value().RawMatrix().Data

		if s.momentum == 0 {
			for i, g := range grad {
				w[i] -= s.lr * g
			}
			continue
		}

		vel := s.velocity(p)
		for i, g := range grad {
			vel[i] = s.momentum*vel[i] + g
			w[i] -= s.lr * vel[i]
		}
	}
}

func (s *SGD) velocity(p *nn.Parameter) []float64 {
	vel, ok := s.velocities[p.Name()]
	if !ok {
		vel = make([]float64, p.Size())
		s.velocities[p.Name()] = vel
	}
	return vel
}

// ZeroGrad clears all parameter gradients.
func (s *SGD) ZeroGrad() {
	zeroGrad(s.params)
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 {
	return s.lr
}

// SetLR sets the learning rate.
func (s *SGD) SetLR(lr float64) {
	s.lr = lr
}

// StateDict returns the momentum buffers.
func (s *SGD) StateDict() map[string]*mat.Dense {
	state := make(map[string]*mat.Dense, len(s.velocities))
	for _, p := range s.params {
		if vel, ok := s.velocities[p.Name()]; ok {
			state["sgd.velocity."+p.Name()] = bufferMatrix(p, vel)
		}
	}
	return state
}

// LoadStateDict restores the momentum buffers.
func (s *SGD) LoadStateDict(state map[string]*mat.Dense) error {
	for _, p := range s.params {
		key := "sgd.velocity." + p.Name()
		if _, ok := state[key]; !ok {
			continue
		}
		if err := loadBuffer(state, key, s.velocity(p)); err != nil {
			return err
		}
	}
	return nil
}
