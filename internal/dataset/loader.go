package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/ocnn/internal/octree"
	"github.com/born-ml/ocnn/internal/parallel"
	"github.com/born-ml/ocnn/internal/points"
)

// Batch is a group of samples sharing one batched octree.
type Batch struct {
	Octree    *octree.Octree
	Points    []*points.PointCloud // Transformed input clouds, one per sample
	Filenames []string             // Relative file names, one per sample
	Indices   []int                // Dataset indices, one per sample
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Filenames) }

// Loader splits a dataset into batches. The sample order of an epoch is a
// pure function of the seed and the epoch, so a resumed run sees the same
// batches.
type Loader struct {
	ds      *Dataset
	workers int
}

// NewLoader creates a loader that reads up to cfg.NumWorkers samples
// concurrently.
func NewLoader(ds *Dataset, cfg parallel.Config) *Loader {
	workers := 1
	if cfg.Enabled && cfg.NumWorkers > 1 {
		workers = cfg.NumWorkers
	}
	return &Loader{ds: ds, workers: workers}
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// Len returns the number of batches per epoch (the last may be short).
func (l *Loader) Len() int {
	bs := l.ds.cfg.BatchSize
	return (l.ds.Len() + bs - 1) / bs
}

// Order returns the sample order of the given epoch.
func (l *Loader) Order(epoch int) []int {
	n := l.ds.Len()
	if !l.ds.cfg.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	//nolint:gosec // shuffling is not security-critical
	return rand.New(rand.NewSource(l.ds.cfg.Seed + int64(epoch))).Perm(n)
}

// Batch loads batch i of the given epoch and builds its octree.
func (l *Loader) Batch(ctx context.Context, epoch, i int) (*Batch, error) {
	if i < 0 || i >= l.Len() {
		return nil, fmt.Errorf("batch %d out of range [0, %d)", i, l.Len())
	}
	bs := l.ds.cfg.BatchSize
	order := l.Order(epoch)
	idx := order[i*bs : min((i+1)*bs, len(order))]

	clouds := make([]*points.PointCloud, len(idx))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for j, sample := range idx {
		j, sample := j, sample
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rng *rand.Rand
			if l.ds.cfg.Jitter > 0 {
				//nolint:gosec // jitter is not security-critical
				rng = rand.New(rand.NewSource(l.ds.cfg.Seed ^ int64(epoch)<<32 ^ int64(sample)))
			}
			pc, err := l.ds.Load(sample, rng)
			if err != nil {
				return err
			}
			clouds[j] = pc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	oct, err := octree.Build(clouds, l.ds.cfg.Depth, l.ds.cfg.FullDepth)
	if err != nil {
		return nil, fmt.Errorf("build octree: %w", err)
	}
	names := make([]string, len(idx))
	for j, sample := range idx {
		names[j] = l.ds.Filename(sample)
	}
	return &Batch{Octree: oct, Points: clouds, Filenames: names, Indices: append([]int(nil), idx...)}, nil
}
