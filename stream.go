// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/wy193777/excelts-sub001/internal"
)

// CRXHeader is the decoded Chrome extension wrapper that may prefix an
// archive: a version plus the publisher's public key and signature. Once the
// wrapper is consumed the body parses as an ordinary ZIP stream.
type CRXHeader struct {
	Version   uint32
	PublicKey []byte
	Signature []byte
}

// StreamParser decodes an archive record by record from a sequential byte
// source, without the archive ever being fully resident. Entries are
// delivered in on-disk order through Next, each with a lazy single-shot
// payload stream. Any payload left unread when Next is called again is
// drained automatically, so an ignored entry can never stall the ones after
// it.
//
// The source needs no random access: a network stream, a decompressor
// output or a pipe all work. Push-shaped producers connect through
// NewPipePuller.
type StreamParser struct {
	p   *Puller
	cfg *settings
	log *slog.Logger

	crx           *CRXHeader
	comment       string
	bodyStart     int64 // stream offset of the ZIP body, past any CRX wrapper
	started       bool  // a ZIP record has been decoded; CRX is no longer valid
	sawCentralDir bool
	finished      bool
	fatal         error // the stream cannot continue past this

	raw *rawPayload // current entry's compressed payload, drained on Next
}

// NewStreamParser returns a parser consuming the archive from r.
func NewStreamParser(r io.Reader, opts ...Option) *StreamParser {
	cfg := newSettings(opts)
	return &StreamParser{
		p:   NewPuller(r),
		cfg: cfg,
		log: cfg.logger,
	}
}

// CRX returns the decoded wrapper header, or nil if the archive did not
// begin with the CRX magic. It is populated once the first record has been
// requested through Next.
func (sp *StreamParser) CRX() *CRXHeader { return sp.crx }

// Comment returns the archive comment. It is populated once the end of
// central directory record has been consumed, i.e. after Next returned
// io.EOF.
func (sp *StreamParser) Comment() string { return sp.comment }

// Next advances to the next file or directory entry, draining whatever
// remains of the previous entry's payload. It returns io.EOF once the end
// of central directory record has been consumed.
func (sp *StreamParser) Next() (*Entry, error) {
	if sp.fatal != nil {
		return nil, sp.fatal
	}
	if sp.finished {
		return nil, io.EOF
	}
	if err := sp.drainCurrent(); err != nil {
		return nil, err
	}

	for {
		sigBytes, err := sp.p.Pull(4)
		if err != nil {
			return nil, err
		}
		sig := binary.LittleEndian.Uint32(sigBytes)

		switch sig {
		case internal.CRXSignature:
			if sp.started {
				return nil, fmt.Errorf("%w: crx header after first record", ErrFormat)
			}
			h, err := internal.ReadCRXHeader(sp.p)
			if err != nil {
				return nil, wireErr(err)
			}
			sp.started = true
			sp.crx = &CRXHeader{Version: h.Version, PublicKey: h.PublicKey, Signature: h.Signature}
			// Offsets inside the body are relative to the end of the wrapper,
			// matching what the central directory records.
			sp.bodyStart = sp.p.Offset()
			sp.log.Debug("creating", slog.String("record", "crx wrapper"), slog.Uint64("version", uint64(h.Version)))

		case internal.LocalFileHeaderSignature:
			sp.started = true
			return sp.nextLocalEntry()

		case internal.CentralDirectorySignature:
			sp.started = true
			sp.sawCentralDir = true
			// Sequential extraction has no use for the directory; the record
			// is consumed only to stay positioned in the stream.
			if _, err := internal.ReadCentralDirEntry(sp.p); err != nil {
				return nil, wireErr(err)
			}

		case internal.Zip64EndOfCentralDirSignature:
			rec, err := internal.ReadZip64EndOfCentralDir(sp.p)
			if err != nil {
				return nil, wireErr(err)
			}
			// Size counts the record past its own field; the fixed layout
			// covers 44 of those bytes, the rest is extensible data. The
			// declared size is untrusted, so the blob is discarded chunk by
			// chunk rather than buffered.
			if rec.Size > math.MaxInt64 {
				return nil, fmt.Errorf("%w: zip64 end of central directory size %d", ErrFormat, rec.Size)
			}
			if rec.Size > 44 {
				if _, err := io.Copy(io.Discard, sp.p.Stream(int64(rec.Size-44))); err != nil {
					return nil, err
				}
			}

		case internal.Zip64EndOfCentralDirLocatorSignature:
			if _, err := internal.ReadZip64EndOfCentralDirLocator(sp.p); err != nil {
				return nil, wireErr(err)
			}

		case internal.EndOfCentralDirSignature:
			end, err := internal.ReadEndOfCentralDir(sp.p)
			if err != nil {
				return nil, wireErr(err)
			}
			sp.comment = decodeText(end.Comment, 0, sp.cfg.textDecoder)
			sp.finished = true
			return nil, io.EOF

		default:
			if !sp.sawCentralDir {
				return nil, fmt.Errorf("%w: unexpected signature %08x at offset %d", ErrFormat, sig, sp.p.Offset()-4)
			}
			// Trailing artifact after the central directory: resynchronize
			// to the canonical EOCD pattern. Lenient on purpose; see the
			// archive format notes in DESIGN.md.
			sp.log.Debug("resynchronizing to end of central directory", slog.Int64("offset", sp.p.Offset()-4))
			if _, err := sp.p.PullUntil(eocdPattern, false); err != nil {
				return nil, err
			}
			end, err := internal.ReadEndOfCentralDir(sp.p)
			if err != nil {
				return nil, wireErr(err)
			}
			sp.comment = decodeText(end.Comment, 0, sp.cfg.textDecoder)
			sp.finished = true
			return nil, io.EOF
		}
	}
}

// nextLocalEntry decodes a local file header (signature already consumed)
// and wires up the entry's payload stream.
func (sp *StreamParser) nextLocalEntry() (*Entry, error) {
	headerOffset := sp.p.Offset() - 4 - sp.bodyStart

	h, err := internal.ReadLocalFileHeader(sp.p)
	if err != nil {
		return nil, wireErr(err)
	}

	name, isDir := splitEntryName(decodeText(h.Filename, h.GeneralPurposeBitFlag, sp.cfg.textDecoder))

	uncompressedSize := uint64(h.UncompressedSize)
	compressedSize := uint64(h.CompressedSize)
	if err := internal.ResolveZip64(h.ExtraField, &uncompressedSize, &compressedSize, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	e := &Entry{
		name:              name,
		isDir:             isDir,
		method:            CompressionMethod(h.CompressionMethod),
		compressedSize:    int64(compressedSize),
		uncompressedSize:  int64(uncompressedSize),
		crc32:             h.CRC32,
		modTime:           internal.MSDosToTime(h.LastModFileDate, h.LastModFileTime),
		localHeaderOffset: headerOffset,
		encrypted:         h.GeneralPurposeBitFlag&internal.FlagEncrypted != 0,
	}

	deferred := h.GeneralPurposeBitFlag&internal.FlagDeferredSizes != 0
	e.sizesDeferred = deferred

	if _, ok := sp.cfg.decompressors[e.method]; !ok && !isDir {
		return nil, fmt.Errorf("%w: method %d for %s", ErrAlgorithm, e.method, e.name)
	}

	payloadStart := sp.p.Offset()

	var raw io.Reader
	var finish func() error
	switch {
	case deferred && compressedSize == 0:
		// The payload's end is undelimited; scan for the trailing data
		// descriptor and take the true sizes from it.
		raw = sp.p.StreamUntil(ddPattern)
		finish = func() error {
			return sp.readScannedDescriptor(e, payloadStart)
		}
	case deferred:
		// Sizes were known after all, but a descriptor still trails the
		// payload and must be consumed to stay positioned.
		raw = sp.p.Stream(int64(compressedSize))
		finish = func() error {
			return sp.readDelimitedDescriptor(e)
		}
	default:
		raw = sp.p.Stream(int64(compressedSize))
	}

	sp.raw = &rawPayload{r: raw, finish: finish}
	sp.installPayload(e)
	sp.logEntry(e)
	return e, nil
}

// installPayload builds the entry's Open function over the parser's current
// raw stream. The stream is single-shot: repeated Opens share one reader.
func (sp *StreamParser) installPayload(e *Entry) {
	raw := sp.raw
	var opened io.ReadCloser
	e.openFunc = func() (io.ReadCloser, error) {
		if opened != nil {
			return opened, nil
		}
		if e.isDir {
			return emptyPayload()
		}
		if e.encrypted {
			// Fatal to the stream: once extraction of an encrypted payload
			// was demanded, Next stops delivering entries.
			sp.fatal = fmt.Errorf("%w: %s", ErrEncrypted, e.name)
			return nil, sp.fatal
		}
		d := sp.cfg.decompressors[e.method]
		rc, err := d.Decompress(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", e.name, err)
		}
		opened = &streamPayload{cr: newChecksumReader(rc, e), raw: raw}
		return opened, nil
	}
}

// readScannedDescriptor consumes the data descriptor body after StreamUntil
// found its signature, disambiguating the 32- and 64-bit layouts by checking
// the compressed size field against the payload bytes actually consumed.
func (sp *StreamParser) readScannedDescriptor(e *Entry, payloadStart int64) error {
	consumed := sp.p.MatchOffset() - payloadStart

	body, err := sp.p.Pull(internal.DataDescriptorLen)
	if err != nil {
		return err
	}
	desc, err := internal.ParseDataDescriptor(body, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if int64(desc.CompressedSize) != consumed {
		more, err := sp.p.Pull(internal.DataDescriptor64Len - internal.DataDescriptorLen)
		if err != nil {
			return err
		}
		desc, err = internal.ParseDataDescriptor(append(body, more...), true)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if int64(desc.CompressedSize) != consumed {
			return fmt.Errorf("%w: data descriptor size %d does not match %d payload bytes", ErrFormat, desc.CompressedSize, consumed)
		}
	}

	return applyDescriptor(e, desc)
}

// readDelimitedDescriptor consumes the descriptor trailing a payload whose
// length was already known. The signature is formally optional but every
// contemporary writer emits it.
func (sp *StreamParser) readDelimitedDescriptor(e *Entry) error {
	head, err := sp.p.Pull(4)
	if err != nil {
		return err
	}

	var body []byte
	if binary.LittleEndian.Uint32(head) == internal.DataDescriptorSignature {
		if body, err = sp.p.Pull(internal.DataDescriptorLen); err != nil {
			return err
		}
	} else {
		rest, err := sp.p.Pull(internal.DataDescriptorLen - 4)
		if err != nil {
			return err
		}
		body = append(head, rest...)
	}

	desc, err := internal.ParseDataDescriptor(body, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if int64(desc.CompressedSize) != e.compressedSize {
		more, err := sp.p.Pull(internal.DataDescriptor64Len - internal.DataDescriptorLen)
		if err != nil {
			return err
		}
		desc, err = internal.ParseDataDescriptor(append(body, more...), true)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if int64(desc.CompressedSize) != e.compressedSize {
			return fmt.Errorf("%w: data descriptor size %d does not match header size %d", ErrFormat, desc.CompressedSize, e.compressedSize)
		}
	}

	return applyDescriptor(e, desc)
}

func applyDescriptor(e *Entry, desc internal.DataDescriptor) error {
	if desc.CompressedSize > math.MaxInt64 || desc.UncompressedSize > math.MaxInt64 {
		return fmt.Errorf("%w: data descriptor size overflows int64", ErrFormat)
	}
	e.crc32 = desc.CRC32
	e.compressedSize = int64(desc.CompressedSize)
	e.uncompressedSize = int64(desc.UncompressedSize)
	e.sizesDeferred = false
	return nil
}

// drainCurrent reads the rest of the current entry's compressed payload,
// including its trailing data descriptor, so the parser is positioned at the
// next record regardless of how much the consumer read.
func (sp *StreamParser) drainCurrent() error {
	if sp.raw == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, sp.raw)
	sp.raw = nil
	return err
}

func (sp *StreamParser) logEntry(e *Entry) {
	switch {
	case e.isDir:
		sp.log.Debug("creating", slog.String("path", e.name))
	case e.method == Deflated:
		sp.log.Debug("inflating", slog.String("path", e.name), slog.Int64("size", e.compressedSize))
	default:
		sp.log.Debug("extracting", slog.String("path", e.name), slog.Int64("size", e.compressedSize))
	}
}

// rawPayload is an entry's compressed byte stream. When it reaches its
// boundary the finish hook runs exactly once, consuming the trailing data
// descriptor and resolving deferred sizes before io.EOF is surfaced.
type rawPayload struct {
	r      io.Reader
	finish func() error
	done   bool
	err    error
}

func (rp *rawPayload) Read(b []byte) (int, error) {
	if rp.done {
		if rp.err != nil {
			return 0, rp.err
		}
		return 0, io.EOF
	}
	n, err := rp.r.Read(b)
	if errors.Is(err, io.EOF) {
		rp.done = true
		if rp.finish != nil {
			if ferr := rp.finish(); ferr != nil {
				rp.err = ferr
				return n, ferr
			}
		}
		return n, io.EOF
	}
	return n, err
}

// streamPayload is the consumer-facing decompressed payload. On the first
// io.EOF it drains any compressed leftovers (a decompressor may stop short
// of the boundary) so deferred sizes are resolved before Close verifies the
// checksum. Close skips verification when the payload was not fully read.
type streamPayload struct {
	cr       *checksumReader
	raw      *rawPayload
	complete bool
}

func (s *streamPayload) Read(b []byte) (int, error) {
	n, err := s.cr.Read(b)
	if errors.Is(err, io.EOF) && !s.complete {
		if _, derr := io.Copy(io.Discard, s.raw); derr != nil {
			return n, derr
		}
		s.complete = true
	}
	return n, err
}

func (s *streamPayload) Close() error {
	if !s.complete {
		return nil
	}
	return s.cr.Close()
}

func wireErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
	}
	return err
}

// Signature byte patterns as they appear on disk, little-endian.
var (
	eocdPattern = []byte{0x50, 0x4b, 0x05, 0x06}
	ddPattern   = []byte{0x50, 0x4b, 0x07, 0x08}
)
