// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const pullChunk = 32 * 1024

// A Puller converts an ordered byte sequence into a demand driven interface:
// give me exactly n bytes, or give me everything up to the next occurrence
// of a pattern. It owns a growable internal buffer with a read cursor and
// never requests more input than outstanding demand requires, so a slow
// consumer exerts backpressure on the source.
//
// All returned byte slices are owned copies; holders never alias the
// internal buffer.
//
// A Puller is not safe for concurrent use. Both decoding pipelines are
// single threaded by design.
type Puller struct {
	src     io.Reader
	buf     []byte
	pos     int   // read cursor within buf
	base    int64 // absolute stream offset of buf[0]
	err     error // sticky source error
	scratch []byte

	matchOff int64 // absolute offset of the last pattern match
}

// NewPuller returns a Puller consuming from r on demand.
func NewPuller(r io.Reader) *Puller {
	return &Puller{src: r, matchOff: -1}
}

// NewPipePuller returns a Puller fed through an in-process pipe, for push
// shaped sources. Writes to the returned writer block until the consumer
// side demands bytes; closing the writer ends the stream, and closing it
// while a demand is outstanding surfaces as ErrUnexpectedEOF.
func NewPipePuller() (*Puller, io.WriteCloser) {
	pr, pw := io.Pipe()
	return NewPuller(pr), pw
}

// Offset returns the absolute number of bytes consumed from the source.
func (p *Puller) Offset() int64 { return p.base + int64(p.pos) }

// MatchOffset returns the absolute offset at which the last PullUntil or
// StreamUntil pattern match began, or -1 if no match has occurred yet.
func (p *Puller) MatchOffset() int64 { return p.matchOff }

func (p *Puller) buffered() int { return len(p.buf) - p.pos }

// compact slides the unread tail to the front of the buffer once the
// consumed prefix grows past one chunk.
func (p *Puller) compact() {
	if p.pos < pullChunk {
		return
	}
	p.base += int64(p.pos)
	p.buf = append(p.buf[:0], p.buf[p.pos:]...)
	p.pos = 0
}

// fill appends at least one byte of fresh input to the buffer, or returns
// the source's error.
func (p *Puller) fill() error {
	if p.err != nil {
		return p.err
	}
	p.compact()
	if p.scratch == nil {
		p.scratch = make([]byte, pullChunk)
	}
	for {
		n, err := p.src.Read(p.scratch)
		if n > 0 {
			p.buf = append(p.buf, p.scratch[:n]...)
			if err != nil {
				p.err = err
			}
			return nil
		}
		if err != nil {
			p.err = err
			return err
		}
	}
}

// demandErr converts a source error observed while a demand was still
// outstanding. A clean end of input is a truncation from the demand's point
// of view; anything else passes through.
func demandErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrUnexpectedEOF
	}
	return err
}

// Pull returns exactly n bytes, waiting for more input if the buffer does
// not yet hold them. It never returns a short result: if the source ends
// first, the demand fails with ErrUnexpectedEOF.
func (p *Puller) Pull(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("zipcore: pull of %d bytes", n)
	}
	for p.buffered() < n {
		if err := p.fill(); err != nil {
			return nil, fmt.Errorf("%w: need %d bytes, have %d", demandErr(err), n, p.buffered())
		}
	}
	out := make([]byte, n)
	copy(out, p.buf[p.pos:p.pos+n])
	p.pos += n
	return out, nil
}

// PullUntil returns all bytes up to the first occurrence of pattern. The
// match itself is always consumed; it is appended to the result only when
// includeMatch is set. The match's absolute offset is recorded and readable
// through MatchOffset.
func (p *Puller) PullUntil(pattern []byte, includeMatch bool) ([]byte, error) {
	if len(pattern) == 0 {
		return nil, fmt.Errorf("zipcore: pull until empty pattern")
	}

	searched := 0 // bytes after the cursor known not to start a match
	for {
		if i := bytes.Index(p.buf[p.pos+searched:], pattern); i >= 0 {
			i += searched
			p.matchOff = p.base + int64(p.pos+i)

			end := i
			if includeMatch {
				end += len(pattern)
			}
			out := make([]byte, end)
			copy(out, p.buf[p.pos:p.pos+end])
			p.pos += i + len(pattern)
			return out, nil
		}

		// searched is relative to the cursor, so it survives the compaction
		// that fill may perform.
		searched = max(0, p.buffered()-len(pattern)+1)
		if err := p.fill(); err != nil {
			return nil, fmt.Errorf("%w: pattern not found in %d buffered bytes", demandErr(err), p.buffered())
		}
	}
}

// Read makes the Puller usable as a plain io.Reader over the same cursor.
// Record decoders in the internal package consume fixed layouts this way.
func (p *Puller) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if p.buffered() == 0 {
		if err := p.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(b, p.buf[p.pos:])
	p.pos += n
	return n, nil
}

// Stream returns a lazy reader over the next n bytes of the source, for
// payloads that should not be materialized as one slice. The reader ends
// with io.EOF exactly at the boundary and fails with ErrUnexpectedEOF if the
// source ends early. The Puller must not be used until the stream is
// exhausted.
func (p *Puller) Stream(n int64) io.Reader {
	return &limitStream{p: p, remain: n}
}

type limitStream struct {
	p      *Puller
	remain int64
}

func (s *limitStream) Read(b []byte) (int, error) {
	if s.remain <= 0 {
		return 0, io.EOF
	}
	if s.p.buffered() == 0 {
		if err := s.p.fill(); err != nil {
			return 0, demandErr(err)
		}
	}
	n := min(len(b), s.p.buffered())
	if int64(n) > s.remain {
		n = int(s.remain)
	}
	copy(b, s.p.buf[s.p.pos:s.p.pos+n])
	s.p.pos += n
	s.remain -= int64(n)
	return n, nil
}

// StreamUntil returns a lazy reader over the bytes preceding the next
// occurrence of pattern. The pattern is consumed but never delivered; after
// the stream returns io.EOF the match offset is readable through
// MatchOffset. The Puller must not be used until the stream is exhausted.
func (p *Puller) StreamUntil(pattern []byte) io.Reader {
	return &scanStream{p: p, pattern: pattern}
}

type scanStream struct {
	p       *Puller
	pattern []byte
	done    bool
}

func (s *scanStream) Read(b []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	for {
		window := s.p.buf[s.p.pos:]
		if i := bytes.Index(window, s.pattern); i >= 0 {
			if i == 0 {
				s.p.matchOff = s.p.base + int64(s.p.pos)
				s.p.pos += len(s.pattern)
				s.done = true
				return 0, io.EOF
			}
			n := min(len(b), i)
			copy(b, window[:n])
			s.p.pos += n
			return n, nil
		}

		// Everything except a possible partial match at the tail is safe to
		// hand out without more input.
		safe := len(window) - len(s.pattern) + 1
		if safe > 0 {
			n := min(len(b), safe)
			copy(b, window[:n])
			s.p.pos += n
			return n, nil
		}

		if err := s.p.fill(); err != nil {
			return 0, demandErr(err)
		}
	}
}
