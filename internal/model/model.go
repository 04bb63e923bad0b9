// SPDX-License-Identifier: MIT
/*
Package model defines the versioned binary format for frozen wake word
models and parses blobs into an in-memory Model.

Blob layout (little-endian):

	+------------------+----------+-------------------------------------+
	| Field            | Type     | Description                         |
	+------------------+----------+-------------------------------------+
	| Magic            | uint32   | 0x5757444D ("MDWW" on the wire)     |
	| SchemaVersion    | uint32   | format version, checked at load     |
	| InputSize        | uint32   | input tensor length (floats)        |
	| HiddenSize       | uint32   | hidden layer width                  |
	| OutputSize       | uint32   | output tensor length (floats)       |
	| LabelLen         | uint32   | wake word label length (bytes)      |
	| Label            | bytes    | UTF-8 wake word name                |
	| W1               | float32  | HiddenSize x InputSize              |
	| B1               | float32  | HiddenSize                          |
	| W2               | float32  | OutputSize x HiddenSize             |
	| B2               | float32  | OutputSize                          |
	+------------------+----------+-------------------------------------+

A schema version other than SchemaVersion is a hard load failure; there is
no partial load.
*/
package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic identifies a wake word model blob.
	Magic uint32 = 0x5757444D

	// SchemaVersion is the blob format this runtime understands.
	SchemaVersion uint32 = 1

	// maxLabelLen bounds the label field so a corrupt header cannot
	// drive a huge allocation.
	maxLabelLen = 256

	// maxTensorDim bounds each declared tensor dimension.
	maxTensorDim = 1 << 16
)

var (
	ErrEmptyBlob     = errors.New("model: nil or empty blob")
	ErrBadMagic      = errors.New("model: bad magic, not a wake word model")
	ErrSchemaVersion = errors.New("model: unsupported schema version")
	ErrTruncated     = errors.New("model: blob truncated")
	ErrBadShape      = errors.New("model: invalid tensor shape")
)

// Model is a parsed wake word model: a two-layer dense network with a
// declared input/output tensor shape and the wake word label it was
// trained for. Weight slices are read-only after Parse.
type Model struct {
	SchemaVersion uint32
	InputSize     int
	HiddenSize    int
	OutputSize    int
	Label         string

	W1 []float32 // HiddenSize rows of InputSize
	B1 []float32
	W2 []float32 // OutputSize rows of HiddenSize
	B2 []float32
}

type header struct {
	Magic         uint32
	SchemaVersion uint32
	InputSize     uint32
	HiddenSize    uint32
	OutputSize    uint32
	LabelLen      uint32
}

// Parse decodes a model blob. The blob is validated fully before any part
// of the Model is returned.
func Parse(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}

	r := bytes.NewReader(blob)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if h.Magic != Magic {
		return nil, ErrBadMagic
	}
	if h.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: blob declares %d, runtime supports %d",
			ErrSchemaVersion, h.SchemaVersion, SchemaVersion)
	}
	if h.InputSize == 0 || h.HiddenSize == 0 || h.OutputSize == 0 ||
		h.InputSize > maxTensorDim || h.HiddenSize > maxTensorDim || h.OutputSize > maxTensorDim {
		return nil, fmt.Errorf("%w: input=%d hidden=%d output=%d",
			ErrBadShape, h.InputSize, h.HiddenSize, h.OutputSize)
	}
	if h.LabelLen > maxLabelLen {
		return nil, fmt.Errorf("%w: label length %d", ErrBadShape, h.LabelLen)
	}

	label := make([]byte, h.LabelLen)
	if _, err := io.ReadFull(r, label); err != nil {
		return nil, fmt.Errorf("%w: label", ErrTruncated)
	}

	// The declared shape bounds the weight allocations below; reject a
	// header promising more data than the blob carries before allocating
	// anything for it.
	weightBytes := 4 * (int64(h.HiddenSize)*int64(h.InputSize) +
		int64(h.HiddenSize) +
		int64(h.OutputSize)*int64(h.HiddenSize) +
		int64(h.OutputSize))
	if int64(r.Len()) < weightBytes {
		return nil, fmt.Errorf("%w: weights need %d bytes, blob has %d",
			ErrTruncated, weightBytes, r.Len())
	}

	m := &Model{
		SchemaVersion: h.SchemaVersion,
		InputSize:     int(h.InputSize),
		HiddenSize:    int(h.HiddenSize),
		OutputSize:    int(h.OutputSize),
		Label:         string(label),
	}

	for _, table := range []struct {
		name string
		dst  *[]float32
		n    int
	}{
		{"W1", &m.W1, m.HiddenSize * m.InputSize},
		{"B1", &m.B1, m.HiddenSize},
		{"W2", &m.W2, m.OutputSize * m.HiddenSize},
		{"B2", &m.B2, m.OutputSize},
	} {
		buf := make([]float32, table.n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTruncated, table.name)
		}
		*table.dst = buf
	}

	return m, nil
}

// Encode serializes a Model back into blob form. Used by tooling and tests;
// the detector itself only ever parses.
func Encode(m *Model) ([]byte, error) {
	if len(m.W1) != m.HiddenSize*m.InputSize || len(m.B1) != m.HiddenSize ||
		len(m.W2) != m.OutputSize*m.HiddenSize || len(m.B2) != m.OutputSize {
		return nil, ErrBadShape
	}

	var buf bytes.Buffer
	h := header{
		Magic:         Magic,
		SchemaVersion: m.SchemaVersion,
		InputSize:     uint32(m.InputSize),
		HiddenSize:    uint32(m.HiddenSize),
		OutputSize:    uint32(m.OutputSize),
		LabelLen:      uint32(len(m.Label)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.WriteString(m.Label)
	for _, table := range [][]float32{m.W1, m.B1, m.W2, m.B2} {
		if err := binary.Write(&buf, binary.LittleEndian, table); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
