package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Adam combines ideas from RMSprop and momentum:
//   - Maintains exponential moving averages of gradients (first moment)
//   - Maintains exponential moving averages of squared gradients (second moment)
//   - Applies bias correction to compensate for initialization at zero
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// Example:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR:    0.001,
//	    Betas: [2]float64{0.9, 0.999},
//	    Eps:   1e-8,
//	})
type Adam struct {
	params      []*nn.Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	t           int                  // Timestep for bias correction
	m           map[string][]float64 // First moment estimates, by parameter name
	v           map[string][]float64 // Second moment estimates, by parameter name
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR          float64    // Learning rate (default: 0.001)
	Betas       [2]float64 // Coefficients for moving averages (default: [0.9, 0.999])
	Eps         float64    // Numerical stability term (default: 1e-8)
	WeightDecay float64    // L2 penalty (default: 0)
}

// NewAdam creates a new Adam optimizer.
//
// Parameters:
//   - params: Model parameters to optimize
//   - config: Adam configuration (LR, Betas, Eps, WeightDecay)
//
// Returns a new Adam optimizer with default values filled in.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	a := &Adam{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[string][]float64, len(params)),
		v:           make(map[string][]float64, len(params)),
	}
	for _, p := range params {
		a.m[p.Name()] = make([]float64, p.Size())
		a.v[p.Name()] = make([]float64, p.Size())
	}
	return a
}

// Step performs a single optimization step.
//
// Increments the timestep and applies the bias-corrected update to every
// parameter that has a gradient.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for _, p := range a.params {
		grad := effectiveGrad(p, a.weightDecay)
		if grad == nil {
			continue
		}
		m, v := a.m[p.Name()], a.v[p.Name()]
		w := p.Value().RawMatrix().Data
		for i, g := range grad {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			w[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (a *Adam) ZeroGrad() {
	zeroGrad(a.params)
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 {
	return a.lr
}

// SetLR sets the learning rate.
func (a *Adam) SetLR(lr float64) {
	a.lr = lr
}

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int {
	return a.t
}

// StateDict returns the moment estimates and the timestep.
func (a *Adam) StateDict() map[string]*mat.Dense {
	state := map[string]*mat.Dense{
		"adam.t": mat.NewDense(1, 1, []float64{float64(a.t)}),
	}
	for _, p := range a.params {
		state["adam.m."+p.Name()] = bufferMatrix(p, a.m[p.Name()])
		state["adam.v."+p.Name()] = bufferMatrix(p, a.v[p.Name()])
	}
	return state
}

// LoadStateDict restores moments and the timestep.
func (a *Adam) LoadStateDict(state map[string]*mat.Dense) error {
	if t, ok := state["adam.t"]; ok {
		a.t = int(t.At(0, 0))
	}
	for _, p := range a.params {
		if err := loadBuffer(state, "adam.m."+p.Name(), a.m[p.Name()]); err != nil {
			return err
		}
		if err := loadBuffer(state, "adam.v."+p.Name(), a.v[p.Name()]); err != nil {
			return err
		}
	}
	return nil
}
