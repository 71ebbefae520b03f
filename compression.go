// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressionMethod identifies the algorithm used for an entry's payload.
type CompressionMethod uint16

// Methods this codec decodes out of the box. Anything else needs a
// registered Decompressor or extraction fails with ErrAlgorithm.
const (
	Stored   CompressionMethod = 0 // payload stored verbatim
	Deflated CompressionMethod = 8 // raw DEFLATE, no zlib header
)

// Decompressor transforms compressed payload bytes back into raw data.
// Implementations are shared across entries and must be safe for repeated
// Decompress calls.
type Decompressor interface {
	// Decompress returns a stream of uncompressed data read from src.
	Decompress(src io.Reader) (io.ReadCloser, error)
}

// StoredDecompressor implements the Store method (no compression).
type StoredDecompressor struct{}

func (sd *StoredDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	if rc, ok := src.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(src), nil
}

// DeflateDecompressor implements the Deflate method.
type DeflateDecompressor struct{}

func (dd *DeflateDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

type decompressorsMap map[CompressionMethod]Decompressor

// newDecompressors returns the registry every parser starts from.
func newDecompressors() decompressorsMap {
	return decompressorsMap{
		Stored:   new(StoredDecompressor),
		Deflated: new(DeflateDecompressor),
	}
}
