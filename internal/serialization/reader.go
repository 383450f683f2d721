package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ReaderOptions configures Read.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// Read decodes a state dictionary and its header from r.
func Read(r io.Reader, opts ReaderOptions) (map[string]*mat.Dense, Header, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, Header{}, fmt.Errorf("%w: got %q, expected %q", ErrInvalidMagic, fixed[0:4], MagicBytes)
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, Header{}, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	if headerSize > MaxHeaderSize {
		return nil, Header{}, ErrHeaderTooLarge
	}
	var stored [ChecksumSize]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read header JSON: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, Header{}, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	padding := paddingAfter(int64(FixedHeaderSize) + int64(headerSize))
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read padding: %w", err)
	}

	var data bytes.Buffer
	hr := newHashingReader(r)
	//nolint:gosec // G115: the data section is verified against the tensor table below
	if _, err := io.CopyN(&data, hr, int64(dataSize)); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if !opts.SkipChecksumValidation {
		if err := hr.verify(stored); err != nil {
			return nil, Header{}, err
		}
	}
	if err := ValidateHeader(&header, int64(data.Len()), opts.ValidationLevel); err != nil {
		return nil, Header{}, fmt.Errorf("validation failed: %w", err)
	}

	raw := data.Bytes()
	state := make(map[string]*mat.Dense, len(header.Tensors))
	for _, t := range header.Tensors {
		if len(t.Shape) != 2 || t.Offset < 0 || t.Offset+t.Size > int64(len(raw)) || t.Size < int64(t.Shape[0]*t.Shape[1]*8) {
			return nil, Header{}, &ValidationError{Kind: ProblemOutOfBounds, Tensor: t.Name, Details: "tensor does not fit the data section"}
		}
		rows, cols := t.Shape[0], t.Shape[1]
		if rows == 0 || cols == 0 {
			state[t.Name] = &mat.Dense{}
			continue
		}
		values := make([]float64, rows*cols)
		for i := range values {
			off := t.Offset + int64(i*8)
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off : off+8]))
		}
		state[t.Name] = mat.NewDense(rows, cols, values)
	}
	return state, header, nil
}

// ReadFile reads a .ocnn file with strict validation.
func ReadFile(path string) (map[string]*mat.Dense, Header, error) {
	//nolint:gosec // G304: checkpoint path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	return Read(f, ReaderOptions{ValidationLevel: ValidationStrict})
}
