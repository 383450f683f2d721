package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
	"github.com/born-ml/ocnn/internal/optim"
)

func newParam(name string, values ...float64) *nn.Parameter {
	return nn.NewParameter(name, mat.NewDense(1, len(values), values))
}

func TestSGD_SimpleUpdate(t *testing.T) {
	p := newParam("w", 1, 2, 3)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1})

	p.AccumulateGrad(mat.NewDense(1, 3, []float64{1, -1, 0.5}))
	opt.Step()

	assert.InDeltaSlice(t, []float64{0.9, 2.1, 2.95}, p.Value().RawRowView(0), 1e-12)
}

func TestSGD_WithMomentum(t *testing.T) {
	p := newParam("w", 1)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	// v1 = 1, w = 1 - 0.1 = 0.9
	p.AccumulateGrad(mat.NewDense(1, 1, []float64{1}))
	opt.Step()
	opt.ZeroGrad()
	assert.InDelta(t, 0.9, p.Value().At(0, 0), 1e-12)

	// v2 = 0.9*1 + 1 = 1.9, w = 0.9 - 0.19 = 0.71
	p.AccumulateGrad(mat.NewDense(1, 1, []float64{1}))
	opt.Step()
	assert.InDelta(t, 0.71, p.Value().At(0, 0), 1e-12)
}

func TestSGD_WeightDecay(t *testing.T) {
	p := newParam("w", 2)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.5, WeightDecay: 0.1})

	p.AccumulateGrad(mat.NewDense(1, 1, []float64{0}))
	opt.Step()

	// grad = 0 + 0.1*2 = 0.2, w = 2 - 0.1
	assert.InDelta(t, 1.9, p.Value().At(0, 0), 1e-12)
}

func TestSGD_SkipsParametersWithoutGradient(t *testing.T) {
	p := newParam("w", 1)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1})
	opt.Step()
	assert.Equal(t, 1.0, p.Value().At(0, 0))
}

func TestAdam_BiasCorrection(t *testing.T) {
	p := newParam("w", 1, -1)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 0.01})

	// After bias correction the first step moves every weight by ~lr
	// against the sign of its gradient.
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{3, -0.001}))
	opt.Step()

	assert.InDelta(t, 0.99, p.Value().At(0, 0), 1e-6)
	assert.InDelta(t, -0.99, p.Value().At(0, 1), 1e-4)
	assert.Equal(t, 1, opt.Timestep())
}

func TestAdam_ZeroGradAndLR(t *testing.T) {
	p := newParam("w", 1)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{})
	assert.Equal(t, 0.001, opt.LR())

	opt.SetLR(0.5)
	assert.Equal(t, 0.5, opt.LR())

	p.AccumulateGrad(mat.NewDense(1, 1, []float64{1}))
	opt.ZeroGrad()
	assert.Nil(t, p.Grad())
}

// TestConvergence_SimpleQuadratic minimizes (w - 3)² with both optimizers.
func TestConvergence_SimpleQuadratic(t *testing.T) {
	tests := []struct {
		name string
		cfg  optim.Config
	}{
		{"sgd", optim.Config{Type: "sgd", LR: 0.1, Momentum: 0.5}},
		{"adam", optim.Config{Type: "adam", LR: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParam("w", 0)
			opt, err := optim.New([]*nn.Parameter{p}, tt.cfg)
			require.NoError(t, err)

			for i := 0; i < 500; i++ {
				w := p.Value().At(0, 0)
				p.AccumulateGrad(mat.NewDense(1, 1, []float64{2 * (w - 3)}))
				opt.Step()
				opt.ZeroGrad()
			}
			assert.InDelta(t, 3, p.Value().At(0, 0), 5e-2)
		})
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := optim.New(nil, optim.Config{Type: "lbfgs"})
	assert.ErrorIs(t, err, optim.ErrUnknownOptimizer)
}

func TestAdam_StateDictRoundTrip(t *testing.T) {
	p := newParam("w", 1, 2)
	a := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 0.1})
	for i := 0; i < 3; i++ {
		p.AccumulateGrad(mat.NewDense(1, 2, []float64{1, 2}))
		a.Step()
		a.ZeroGrad()
	}

	q := newParam("w", 1, 2)
	b := optim.NewAdam([]*nn.Parameter{q}, optim.AdamConfig{LR: 0.1})
	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, 3, b.Timestep())

	// Identical state and weights produce identical updates.
	q.Value().Copy(p.Value())
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{0.5, 0.5}))
	q.AccumulateGrad(mat.NewDense(1, 2, []float64{0.5, 0.5}))
	a.Step()
	b.Step()
	assert.InDeltaSlice(t, p.Value().RawRowView(0), q.Value().RawRowView(0), 1e-15)

	bad := map[string]*mat.Dense{"adam.m.w": mat.NewDense(1, 3, nil)}
	assert.ErrorIs(t, b.LoadStateDict(bad), nn.ErrShapeMismatch)
}

func TestSGD_StateDictRoundTrip(t *testing.T) {
	p := newParam("w", 1)
	a := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	p.AccumulateGrad(mat.NewDense(1, 1, []float64{1}))
	a.Step()

	q := newParam("w", 1)
	b := optim.NewSGD([]*nn.Parameter{q}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, []float64{1}, b.StateDict()["sgd.velocity.w"].RawRowView(0))
}

func TestScheduler(t *testing.T) {
	tests := []struct {
		name  string
		cfg   optim.ScheduleConfig
		epoch int
		want  float64
	}{
		{"constant", optim.ScheduleConfig{BaseLR: 0.1}, 50, 0.1},
		{"step before milestone", optim.ScheduleConfig{Type: "step", BaseLR: 1, Milestones: []int{10, 20}}, 10, 1},
		{"step after first", optim.ScheduleConfig{Type: "step", BaseLR: 1, Milestones: []int{10, 20}}, 11, 0.1},
		{"step after both", optim.ScheduleConfig{Type: "step", BaseLR: 1, Milestones: []int{10, 20}}, 21, 0.01},
		{"cos start", optim.ScheduleConfig{Type: "cos", BaseLR: 1, MaxEpoch: 10}, 1, 1},
		{"cos middle", optim.ScheduleConfig{Type: "cos", BaseLR: 1, MaxEpoch: 10}, 6, 0.5},
		{"cos end", optim.ScheduleConfig{Type: "cos", BaseLR: 1, MaxEpoch: 10}, 11, 0},
		{"poly middle", optim.ScheduleConfig{Type: "poly", BaseLR: 1, MaxEpoch: 10, Power: 1}, 6, 0.5},
		{"poly end", optim.ScheduleConfig{Type: "poly", BaseLR: 1, MaxEpoch: 4, MinLR: 0.01}, 5, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := optim.NewScheduler(tt.cfg)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, s.LR(tt.epoch), 1e-12)
		})
	}
}

func TestScheduler_Errors(t *testing.T) {
	_, err := optim.NewScheduler(optim.ScheduleConfig{Type: "exp"})
	assert.ErrorIs(t, err, optim.ErrUnknownSchedule)

	_, err = optim.NewScheduler(optim.ScheduleConfig{Type: "cos"})
	assert.Error(t, err)
}

func TestScheduler_Apply(t *testing.T) {
	p := newParam("w", 0)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 1})
	s, err := optim.NewScheduler(optim.ScheduleConfig{Type: "poly", BaseLR: 1, MaxEpoch: 2, Power: 2})
	require.NoError(t, err)

	lr := s.Apply(opt, 2)
	assert.InDelta(t, 0.25, lr, 1e-12)
	assert.InDelta(t, 0.25, opt.LR(), 1e-12)
}
