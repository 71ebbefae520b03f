// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"
	"log/slog"
)

// Option configures a StreamParser or an Archive.
type Option func(*settings)

// settings are the knobs shared by both pipelines.
type settings struct {
	logger        *slog.Logger
	textDecoder   TextDecoder
	decompressors decompressorsMap
}

func newSettings(opts []Option) *settings {
	s := &settings{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		textDecoder:   CP437,
		decompressors: newDecompressors(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// WithLogger enables verbose per-record diagnostics on the given logger.
// Records are reported at Debug level; this is a side channel and does not
// affect decoding.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTextDecoder sets the decoder applied to entry names and comments whose
// Unicode flag is clear. The default is CP437.
func WithTextDecoder(dec TextDecoder) Option {
	return func(s *settings) {
		s.textDecoder = dec
	}
}

// WithDecompressor registers a decompressor for a custom compression method,
// or overrides a built-in one.
func WithDecompressor(method CompressionMethod, d Decompressor) Option {
	return func(s *settings) {
		s.decompressors[method] = d
	}
}
