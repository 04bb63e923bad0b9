// SPDX-License-Identifier: MIT
package model

import (
	"errors"
	"fmt"
	"os"
)

// MaxBlobSize caps model files at 1 MiB. Anything larger is not a wake
// word model for this pipeline.
const MaxBlobSize = 1 << 20

var ErrTooLarge = errors.New("model: blob exceeds size limit")

// Load reads and parses a model blob from the filesystem. The storage
// layer is deliberately dumb: any file-backed or mounted path works.
func Load(path string) (*Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model: stat %s: %w", path, err)
	}
	if info.Size() > MaxBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	return Parse(blob)
}
