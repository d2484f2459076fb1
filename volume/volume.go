// Package volume reads and writes scalar and label volumes and builds synthetic inputs.
package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/pthm-cable/contour/grid"
)

// ErrDimsMismatch is returned when a stored payload does not match its header dimensions.
var ErrDimsMismatch = errors.New("volume data does not match dimensions")

type scalarFile struct {
	Dims grid.Dims
	Data []float32
}

type labelFile struct {
	Dims grid.Dims
	Data []int32
}

// WriteScalar stores a scalar field as gob+gzip.
func WriteScalar(path string, s *grid.Scalar) error {
	return writeBlob(path, scalarFile{Dims: s.Dims, Data: s.Data})
}

// ReadScalar loads a scalar field written by WriteScalar.
func ReadScalar(path string) (*grid.Scalar, error) {
	var f scalarFile
	if err := readBlob(path, &f); err != nil {
		return nil, err
	}
	if len(f.Data) != f.Dims.Len() {
		return nil, fmt.Errorf("%s: %w", path, ErrDimsMismatch)
	}
	return &grid.Scalar{Dims: f.Dims, Data: f.Data}, nil
}

// WriteLabels stores a label field as gob+gzip.
func WriteLabels(path string, l *grid.Labels) error {
	return writeBlob(path, labelFile{Dims: l.Dims, Data: l.Data})
}

// ReadLabels loads a label field written by WriteLabels.
func ReadLabels(path string) (*grid.Labels, error) {
	var f labelFile
	if err := readBlob(path, &f); err != nil {
		return nil, err
	}
	if len(f.Data) != f.Dims.Len() {
		return nil, fmt.Errorf("%s: %w", path, ErrDimsMismatch)
	}
	return &grid.Labels{Dims: f.Dims, Data: f.Data}, nil
}

func writeBlob(path string, v any) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readBlob(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading volume: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()
	if err := gob.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
