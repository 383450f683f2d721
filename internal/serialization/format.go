package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "OCNN"
	FormatVersion   = 2    // With SHA-256 checksum
	HeaderAlignment = 64   // Align tensor data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
)

// DTypeFloat64 is the only element type written by this package.
const DTypeFloat64 = "float64"

// Flags for the .ocnn format.
const (
	FlagHasOptimizer uint32 = 1 << 1 // bit 1: optimizer state included
	FlagHasMetadata  uint32 = 1 << 2 // bit 2: custom metadata included
)

// Header represents the JSON header in a .ocnn file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	Producer       string            `json:"producer"`             // Program version that wrote the file
	ModelType      string            `json:"model_type"`           // e.g. "AutoEncoder"
	CreatedAt      time.Time         `json:"created_at"`           // When the file was created
	Tensors        []TensorMeta      `json:"tensors"`              // Tensor metadata
	Metadata       map[string]string `json:"metadata"`             // Custom metadata
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"` // Training state (optional)
}

// CheckpointMeta contains training state information for checkpoints.
type CheckpointMeta struct {
	Epoch         int     `json:"epoch"`          // Last completed epoch
	Step          int64   `json:"step"`           // Global iteration count
	Loss          float64 `json:"loss"`           // Average training loss of the epoch
	OptimizerType string  `json:"optimizer_type"` // "adam" or "sgd"
	LR            float64 `json:"lr"`             // Learning rate at save time
}

// TensorMeta describes a tensor in the .ocnn file.
type TensorMeta struct {
	Name   string `json:"name"`   // e.g. "model.decoder.6.fc1.weight"
	DType  string `json:"dtype"`  // Always "float64"
	Shape  []int  `json:"shape"`  // [rows, cols]
	Offset int64  `json:"offset"` // Bytes from the start of the data section
	Size   int64  `json:"size"`   // Size in bytes
}

// paddingAfter returns the bytes needed after pos to reach the alignment.
func paddingAfter(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}
