package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out, &errOut))
	assert.Equal(t, "ocnn "+version+"\n", out.String())
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out, &errOut), flag.ErrHelp)
	assert.Contains(t, errOut.String(), "Commands:")

	assert.Error(t, run(context.Background(), []string{"fly"}, &out, &errOut))
	assert.Error(t, run(context.Background(), []string{"train"}, &out, &errOut))
}

func TestRun_SynthTrainEvaluate(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(),
		[]string{"synth", "-out", data, "-n", "5", "-points", "200", "-seed", "1"}, &out, &errOut))
	assert.Contains(t, out.String(), "wrote 5 clouds")

	cfg := `
solver:
  logdir: ` + filepath.Join(dir, "logs") + `
  max_epoch: 1
  test_every_epoch: 1
  log_per_iter: 0
model: {depth: 4, full_depth: 2, code: 8, hidden: 16}
data:
  train: {location: ` + data + `, filelist: ` + filepath.Join(data, "filelist_train.txt") + `, batch_size: 2}
  test: {location: ` + data + `, filelist: ` + filepath.Join(data, "filelist_test.txt") + `, batch_size: 2}
loss: {density_depth: 3, density_samples: 10}
log: {level: warn}
`
	cfgPath := filepath.Join(dir, "ae.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	require.NoError(t, run(context.Background(), []string{"train", "-config", cfgPath}, &out, &errOut))
	require.NoError(t, run(context.Background(), []string{"evaluate", "-config", cfgPath}, &out, &errOut))

	var outs []string
	err := filepath.Walk(filepath.Join(dir, "logs"), func(path string, _ os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(path, ".out.xyz") {
			outs = append(outs, path)
		}
		return err
	})
	require.NoError(t, err)
	assert.Len(t, outs, 1)
}
