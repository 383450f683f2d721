// Package dataset reads point-cloud file lists, applies the training
// transforms and groups samples into octree batches.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqsense/pcgol/mat"

	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/points"
)

// Common errors.
var (
	ErrEmptyFilelist = errors.New("file list is empty")
	ErrInvalidConfig = errors.New("invalid dataset config")
)

// Config describes one dataset split.
type Config struct {
	Location  string  `yaml:"location"`   // Root directory of the sample files
	Filelist  string  `yaml:"filelist"`   // One relative path per line
	Take      int     `yaml:"take"`       // Use only the first Take files; <= 0 uses all
	BatchSize int     `yaml:"batch_size"` // Samples per batch
	Shuffle   bool    `yaml:"shuffle"`    // Reshuffle every epoch
	Depth     int     `yaml:"depth"`      // Octree depth
	FullDepth int     `yaml:"full_depth"` // Octree full depth
	Scale     float32 `yaml:"scale"`      // Half-extent after normalization (default: 1)
	Jitter    float32 `yaml:"jitter"`     // Uniform noise amplitude added to points; 0 disables
	Seed      int64   `yaml:"seed"`       // Seed for shuffling and jitter
}

// Validate fills defaults and checks the config.
func (c *Config) Validate() error {
	if c.Scale == 0 {
		c.Scale = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	switch {
	case c.Filelist == "":
		return fmt.Errorf("%w: filelist is required", ErrInvalidConfig)
	case c.BatchSize < 0:
		return fmt.Errorf("%w: batch_size %d", ErrInvalidConfig, c.BatchSize)
	case c.Scale < 0 || c.Scale > 1:
		return fmt.Errorf("%w: scale %g not in (0, 1]", ErrInvalidConfig, c.Scale)
	case c.Jitter < 0:
		return fmt.Errorf("%w: jitter %g", ErrInvalidConfig, c.Jitter)
	case c.Depth < 1 || c.Depth > octree.MaxDepth || c.FullDepth < 0 || c.FullDepth > c.Depth:
		return fmt.Errorf("%w: depth %d, full depth %d", ErrInvalidConfig, c.Depth, c.FullDepth)
	}
	return nil
}

// Dataset is an indexed list of point-cloud files.
type Dataset struct {
	cfg   Config
	files []string
}

// New reads the file list of cfg.
//
// Each non-blank line holds a path relative to Location; anything after the
// first whitespace (a class label in ShapeNet lists) is ignored.
func New(cfg Config) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	files, err := ReadFilelist(cfg.Filelist)
	if err != nil {
		return nil, err
	}
	if cfg.Take > 0 && cfg.Take < len(files) {
		files = files[:cfg.Take]
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFilelist, cfg.Filelist)
	}
	return &Dataset{cfg: cfg, files: files}, nil
}

// ReadFilelist returns the first field of every non-blank line.
func ReadFilelist(path string) ([]string, error) {
	//nolint:gosec // G304: file list path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file list: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var files []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		files = append(files, fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file list: %w", err)
	}
	return files, nil
}

// Config returns the dataset config with defaults applied.
func (d *Dataset) Config() Config { return d.cfg }

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.files) }

// Filename returns the relative path of sample i.
func (d *Dataset) Filename(i int) string { return d.files[i] }

// Load reads sample i and applies the transforms. rng drives the jitter and
// may be nil when jitter is disabled.
func (d *Dataset) Load(i int, rng *rand.Rand) (*points.PointCloud, error) {
	path := d.files[i]
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.cfg.Location, path)
	}
	pc, err := points.Load(path)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", d.files[i], err)
	}
	if err := Transform(pc, d.cfg.Scale, d.cfg.Jitter, rng); err != nil {
		return nil, fmt.Errorf("sample %s: %w", d.files[i], err)
	}
	return pc, nil
}

// Transform normalizes pc into [-scale, scale]^3, adds uniform jitter of
// the given amplitude, clips to [-1, 1] and renormalizes the normals.
func Transform(pc *points.PointCloud, scale, jitter float32, rng *rand.Rand) error {
	if _, _, err := pc.Normalize(scale); err != nil {
		return err
	}
	if jitter > 0 && rng != nil {
		for i, p := range pc.Points {
			pc.Points[i] = p.Add(mat.Vec3{
				(rng.Float32()*2 - 1) * jitter,
				(rng.Float32()*2 - 1) * jitter,
				(rng.Float32()*2 - 1) * jitter,
			})
		}
	}
	pc.Clip(-1, 1)
	pc.NormalizeNormals()
	if pc.Len() == 0 {
		return points.ErrEmptyCloud
	}
	return nil
}
