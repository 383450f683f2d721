package solver

import (
	"log/slog"
	"sort"

	"github.com/born-ml/ocnn/internal/loss"
)

// AverageTracker accumulates step outputs and reports per-key means.
type AverageTracker struct {
	sum   map[string]float64
	count map[string]int
}

// NewAverageTracker returns an empty tracker.
func NewAverageTracker() *AverageTracker {
	return &AverageTracker{sum: map[string]float64{}, count: map[string]int{}}
}

// Update adds one step output.
func (t *AverageTracker) Update(out loss.Output) {
	for k, v := range out {
		t.sum[k] += v
		t.count[k]++
	}
}

// Average returns the mean of every key seen so far.
func (t *AverageTracker) Average() loss.Output {
	avg := make(loss.Output, len(t.sum))
	for k, s := range t.sum {
		avg[k] = s / float64(t.count[k])
	}
	return avg
}

// Empty reports whether no output was added.
func (t *AverageTracker) Empty() bool {
	return len(t.sum) == 0
}

// Attrs returns the values as slog attributes in key order.
func Attrs(out loss.Output) []any {
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Float64(k, out[k]))
	}
	return attrs
}
