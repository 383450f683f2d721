package points

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads a point cloud, choosing the codec from the file extension
// (.xyz, .txt, .pts or .pcd).
func Load(path string) (*PointCloud, error) {
	//nolint:gosec // G304: dataset paths come from the configured file list
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open point cloud: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xyz", ".txt", ".pts":
		return ReadXYZ(f)
	case ".pcd":
		return ReadPCD(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Save writes a point cloud, choosing the codec from the file extension.
// The parent directory is created when missing.
func Save(path string, p *PointCloud) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	//nolint:gosec // G304: output paths are derived from the log directory
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create point cloud file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcd":
		err = WritePCD(f, p)
	default:
		err = WriteXYZ(f, p)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
