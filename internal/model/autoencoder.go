package model

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ocnn/internal/nn"
	"github.com/born-ml/ocnn/internal/octree"
)

// Config describes an AutoEncoder.
type Config struct {
	ChannelIn  int    `yaml:"channel_in"`  // Input feature channels, must match Feature
	ChannelOut int    `yaml:"channel_out"` // Regressed signal channels (normal + displacement)
	Depth      int    `yaml:"depth"`       // Leaf depth
	FullDepth  int    `yaml:"full_depth"`  // Deepest complete level; decoding starts here
	Feature    string `yaml:"feature"`     // Input feature kind, e.g. "ND"
	Code       int    `yaml:"code"`        // Latent code size (default: 32)
	Hidden     int    `yaml:"hidden"`      // Hidden width of decoder blocks (default: 64)
	Seed       int64  `yaml:"seed"`        // Weight initialization seed
}

// Validate fills defaults and checks consistency.
func (c *Config) Validate() error {
	if c.Code == 0 {
		c.Code = 32
	}
	if c.Hidden == 0 {
		c.Hidden = 64
	}
	if c.Depth < 1 || c.Depth > octree.MaxDepth || c.FullDepth < 0 || c.FullDepth > c.Depth {
		return fmt.Errorf("%w: depth %d, full depth %d", ErrInvalidConfig, c.Depth, c.FullDepth)
	}
	channels, err := octree.FeatureChannels(c.Feature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ChannelIn != channels {
		return fmt.Errorf("%w: feature %q has %d channels, channel_in is %d",
			ErrInvalidConfig, c.Feature, channels, c.ChannelIn)
	}
	if c.ChannelOut < 4 {
		return fmt.Errorf("%w: channel_out %d, need at least normal + displacement", ErrInvalidConfig, c.ChannelOut)
	}
	if c.Code < 1 || c.Hidden < 1 {
		return fmt.Errorf("%w: code %d, hidden %d", ErrInvalidConfig, c.Code, c.Hidden)
	}
	return nil
}

// mlp is Linear → tanh → Linear.
type mlp struct {
	fc1 *nn.Linear
	act *nn.Tanh
	fc2 *nn.Linear
}

func newMLP(name string, in, hidden, out int, rng *rand.Rand) *mlp {
	return &mlp{
		fc1: nn.NewLinear(name+".fc1", in, hidden, rng),
		act: nn.NewTanh(),
		fc2: nn.NewLinear(name+".fc2", hidden, out, rng),
	}
}

func (m *mlp) Forward(x *mat.Dense) *mat.Dense {
	return m.fc2.Forward(m.act.Forward(m.fc1.Forward(x)))
}

func (m *mlp) Backward(dy *mat.Dense) *mat.Dense {
	return m.fc1.Backward(m.act.Backward(m.fc2.Backward(dy)))
}

func (m *mlp) Parameters() []*nn.Parameter {
	return append(m.fc1.Parameters(), m.fc2.Parameters()...)
}

// AutoEncoder is a compact octree autoencoder.
//
// The encoder averages the leaf input feature and leaf position of each
// sample and maps them to a latent code. Every depth from FullDepth to
// Depth has a decoder block that scores occupancy from [node center, code];
// a regression head predicts the leaf signal of non-empty leaves.
type AutoEncoder struct {
	cfg     Config
	encoder *nn.Linear
	encAct  *nn.Tanh
	decoder map[int]*mlp
	head    *mlp

	// Batch index of the rows fed to each decoder (and to the head, under
	// key -1) during the last forward pass.
	rowBatch  map[int][]int32
	batchSize int
}

const headKey = -1

// NewAutoEncoder creates an AutoEncoder with Xavier-initialized weights.
//
// Parameters:
//   - cfg: Model configuration; defaults are filled in place
//
// Returns an error if cfg is inconsistent.
func NewAutoEncoder(cfg Config) (*AutoEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))

	ae := &AutoEncoder{
		cfg:     cfg,
		encoder: nn.NewLinear("encoder.fc", cfg.ChannelIn+3, cfg.Code, rng),
		encAct:  nn.NewTanh(),
		decoder: make(map[int]*mlp),
	}
	for d := cfg.FullDepth; d <= cfg.Depth; d++ {
		ae.decoder[d] = newMLP("decoder."+strconv.Itoa(d), 3+cfg.Code, cfg.Hidden, 2, rng)
	}
	ae.head = newMLP("regressor", 3+cfg.Code, cfg.Hidden, cfg.ChannelOut, rng)
	return ae, nil
}

// Config returns the model configuration with defaults applied.
func (ae *AutoEncoder) Config() Config {
	return ae.cfg
}

// Forward encodes oct and decodes occupancy and the leaf signal.
func (ae *AutoEncoder) Forward(oct *octree.Octree, update bool) (*Output, error) {
	if oct.Depth() != ae.cfg.Depth || oct.FullDepth() != ae.cfg.FullDepth {
		return nil, fmt.Errorf("%w: octree depth %d/%d, model %d/%d",
			ErrDepthMismatch, oct.Depth(), oct.FullDepth(), ae.cfg.Depth, ae.cfg.FullDepth)
	}

	code, err := ae.encode(oct)
	if err != nil {
		return nil, err
	}

	target := oct
	if update {
		if target, err = octree.NewFull(oct.BatchSize(), ae.cfg.Depth, ae.cfg.FullDepth); err != nil {
			return nil, err
		}
	}

	ae.rowBatch = make(map[int][]int32)
	out := &Output{Logits: make(map[int]*mat.Dense), OctreeOut: target}
	for d := ae.cfg.FullDepth; d <= ae.cfg.Depth; d++ {
		x, batch := nodeInput(target, d, false, code)
		ae.rowBatch[d] = batch
		logits := ae.decoder[d].Forward(x)
		out.Logits[d] = logits

		if update {
			mask := make([]bool, nn.Rows(logits))
			for i, c := range nn.Argmax(logits) {
				mask[i] = c == 1
			}
			if err := target.Split(d, mask); err != nil {
				return nil, fmt.Errorf("split depth %d: %w", d, err)
			}
		}
	}

	x, batch := nodeInput(target, ae.cfg.Depth, true, code)
	ae.rowBatch[headKey] = batch
	out.Signal = ae.head.Forward(x)

	if update {
		if err := target.SetFeature(ae.cfg.Depth, out.Signal); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encode returns the [batch, code] latent matrix.
func (ae *AutoEncoder) encode(oct *octree.Octree) (*mat.Dense, error) {
	feature, err := oct.InputFeature(ae.cfg.Feature, true)
	if err != nil {
		return nil, fmt.Errorf("encoder input: %w", err)
	}
	pos, err := oct.InputFeature("P", true)
	if err != nil {
		return nil, fmt.Errorf("encoder input: %w", err)
	}
	batch := oct.BatchID(oct.Depth(), true)

	b := oct.BatchSize()
	width := ae.cfg.ChannelIn + 3
	pooled := mat.NewDense(b, width, nil)
	counts := make([]float64, b)
	for i, s := range batch {
		row := pooled.RawRowView(int(s))
		for j, v := range feature.RawRowView(i) {
			row[j] += v
		}
		for j, v := range pos.RawRowView(i) {
			row[ae.cfg.ChannelIn+j] += v
		}
		counts[s]++
	}
	for s, n := range counts {
		if n > 0 {
			row := pooled.RawRowView(s)
			for j := range row {
				row[j] /= n
			}
		}
	}

	ae.batchSize = b
	return ae.encAct.Forward(ae.encoder.Forward(pooled)), nil
}

// nodeInput builds [center(3), code[batch]] rows for the nodes at depth d.
func nodeInput(oct *octree.Octree, d int, nonEmpty bool, code *mat.Dense) (*mat.Dense, []int32) {
	centers := oct.Centers(d, nonEmpty)
	batch := oct.BatchID(d, nonEmpty)
	_, c := code.Dims()
	x := nn.NewDense(len(centers), 3+c, nil)
	for i, p := range centers {
		row := x.RawRowView(i)
		copy(row, p[:])
		copy(row[3:], code.RawRowView(int(batch[i])))
	}
	return x, batch
}

// Backward propagates g through the decoders, the regression head and the
// encoder, accumulating parameter gradients.
func (ae *AutoEncoder) Backward(g *Gradients) error {
	if ae.rowBatch == nil {
		return ErrNoForward
	}
	dCode := mat.NewDense(ae.batchSize, ae.cfg.Code, nil)

	scatter := func(dx *mat.Dense, batch []int32) {
		for i, s := range batch {
			row := dCode.RawRowView(int(s))
			for j, v := range dx.RawRowView(i)[3:] {
				row[j] += v
			}
		}
	}

	depths := make([]int, 0, len(g.Logits))
	for d := range g.Logits {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	for _, d := range depths {
		dec, ok := ae.decoder[d]
		if !ok {
			return fmt.Errorf("%w: no decoder at depth %d", ErrDepthMismatch, d)
		}
		grad := g.Logits[d]
		if nn.Rows(grad) != len(ae.rowBatch[d]) {
			return fmt.Errorf("%w: depth %d logits gradient has %d rows, forward had %d",
				nn.ErrShapeMismatch, d, nn.Rows(grad), len(ae.rowBatch[d]))
		}
		scatter(dec.Backward(grad), ae.rowBatch[d])
	}

	if g.Signal != nil {
		if nn.Rows(g.Signal) != len(ae.rowBatch[headKey]) {
			return fmt.Errorf("%w: signal gradient has %d rows, forward had %d",
				nn.ErrShapeMismatch, nn.Rows(g.Signal), len(ae.rowBatch[headKey]))
		}
		scatter(ae.head.Backward(g.Signal), ae.rowBatch[headKey])
	}

	ae.encoder.Backward(ae.encAct.Backward(dCode))
	return nil
}

// Parameters returns encoder, decoder (by depth) and regressor parameters.
func (ae *AutoEncoder) Parameters() []*nn.Parameter {
	params := ae.encoder.Parameters()
	for d := ae.cfg.FullDepth; d <= ae.cfg.Depth; d++ {
		params = append(params, ae.decoder[d].Parameters()...)
	}
	return append(params, ae.head.Parameters()...)
}

// StateDict returns the parameter matrices keyed by name.
func (ae *AutoEncoder) StateDict() map[string]*mat.Dense {
	return nn.StateDict("", ae)
}

// LoadStateDict copies state into the parameters.
func (ae *AutoEncoder) LoadStateDict(state map[string]*mat.Dense) error {
	return nn.LoadStateDict("", ae, state)
}
