// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipcore decodes ZIP containers, the envelope format of OOXML
// spreadsheet packages. The same on-disk format is served by two independent
// pipelines:
//
// 1. Streaming: [StreamParser] consumes an archive record by record from any
// sequential byte source, emitting entries with lazy payload streams and
// never buffering the whole archive. Suited to large workbooks arriving over
// a network or pipe.
//
// 2. Random access: [Archive] indexes a fully resident byte buffer through
// its central directory and extracts any entry on demand, with no
// incremental I/O source required. Suited to small workbooks and
// browser-style environments.
//
// Both pipelines resolve ZIP64 magnitudes, packed MS-DOS timestamps and the
// optional CRX wrapper identically, and agree field for field on any
// archive. Decompression is delegated to pluggable [Decompressor]
// implementations; Store and Deflate are built in. Encrypted entries are
// detected and rejected, never decrypted. Archive writing is out of scope.
//
// # Basic usage
//
// Random access over a resident buffer:
//
//	a, _ := zipcore.NewArchive(data)
//	workbook, _ := a.ReadFile("xl/workbook.xml")
//
// Streaming:
//
//	sp := zipcore.NewStreamParser(src)
//	for {
//		e, err := sp.Next()
//		if err == io.EOF {
//			break
//		}
//		// read e.Open(), or skip: unread payloads are drained automatically
//	}
package zipcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wy193777/excelts-sub001/internal"
	"github.com/wy193777/excelts-sub001/internal/sys"
)

// Full on-disk record sizes, signature included.
const (
	localHeaderLen = 30
	eocdLen        = 22
	zip64LocLen    = 20

	// The EOCD record sits at most this far from the end of the archive,
	// bounded by the longest possible trailing comment.
	maxEOCDSearch = eocdLen + math.MaxUint16
)

// Archive is the random-access decoder over a fully resident archive. The
// entire entry list is built once at construction by walking the central
// directory; extraction of any entry is then a pure function of its
// descriptor and the shared source buffer, which is never copied.
//
// An Archive is safe for concurrent extraction once constructed.
type Archive struct {
	data    []byte
	cfg     *settings
	log     *slog.Logger
	crx     *CRXHeader
	comment string
	entries []*Entry
	byName  map[string]*Entry
}

// NewArchive indexes the archive contained in data. The buffer is shared,
// not copied; the caller must not mutate it while the Archive is in use.
func NewArchive(data []byte, opts ...Option) (*Archive, error) {
	cfg := newSettings(opts)
	a := &Archive{
		data:   data,
		cfg:    cfg,
		log:    cfg.logger,
		byName: make(map[string]*Entry),
	}

	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == internal.CRXSignature {
		h, err := internal.ReadCRXHeader(bytes.NewReader(data[4:]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		a.crx = &CRXHeader{Version: h.Version, PublicKey: h.PublicKey, Signature: h.Signature}
		// Offsets inside the body are relative to the end of the wrapper.
		a.data = data[4+internal.CRXHeaderLen+len(h.PublicKey)+len(h.Signature):]
	}

	if err := a.readCentralDir(); err != nil {
		return nil, err
	}
	return a, nil
}

// CRX returns the decoded wrapper header, or nil if the buffer did not
// begin with the CRX magic.
func (a *Archive) CRX() *CRXHeader { return a.crx }

// Comment returns the archive comment.
func (a *Archive) Comment() string { return a.comment }

// Entries returns all entries in central directory order.
func (a *Archive) Entries() []*Entry {
	out := make([]*Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Entry returns the entry for the given path. On duplicate paths the last
// central directory record wins.
func (a *Archive) Entry(path string) (*Entry, error) {
	if e, ok := a.byName[path]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, path)
}

// Open returns the named entry's decompressed payload.
func (a *Archive) Open(path string) (io.ReadCloser, error) {
	e, err := a.Entry(path)
	if err != nil {
		return nil, err
	}
	return e.Open()
}

// ReadFile is the immediate form of Open: it extracts the named entry fully
// into memory. No I/O wait is involved since the buffer is resident.
func (a *Archive) ReadFile(path string) ([]byte, error) {
	e, err := a.Entry(path)
	if err != nil {
		return nil, err
	}
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if e.uncompressedSize > 0 && e.uncompressedSize < math.MaxInt32 {
		buf.Grow(int(e.uncompressedSize))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		rc.Close()
		return nil, err
	}
	if err := rc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractAll decompresses every file entry using up to workers concurrent
// goroutines and returns the payloads keyed by path. Directories are
// skipped. The first per-entry failure cancels the remaining work.
func (a *Archive) ExtractAll(ctx context.Context, workers int) (map[string][]byte, error) {
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	out := make(map[string][]byte, len(a.entries))

	for _, e := range a.entries {
		if e.isDir {
			continue
		}
		e := e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := a.ReadFile(e.name)
			if err != nil {
				return fmt.Errorf("extract %s: %w", e.name, err)
			}
			mu.Lock()
			out[e.name] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// readCentralDir locates the end of central directory record, resolves
// ZIP64 overflow through the locator chain and walks the directory to build
// one descriptor per entry.
func (a *Archive) readCentralDir() error {
	eocdOff, err := findEOCD(a.data)
	if err != nil {
		return err
	}

	end, err := internal.ReadEndOfCentralDir(bytes.NewReader(a.data[eocdOff+4:]))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	a.comment = decodeText(end.Comment, 0, a.cfg.textDecoder)

	totalEntries := int64(end.TotalNumberOfEntries)
	cdOffset := int64(end.CentralDirOffset)

	if end.TotalNumberOfEntries == math.MaxUint16 || end.CentralDirOffset == math.MaxUint32 {
		totalEntries, cdOffset, err = a.readZip64EndOfCentralDir(eocdOff)
		if err != nil {
			return err
		}
	}

	if cdOffset < 0 || cdOffset > int64(len(a.data)) {
		return fmt.Errorf("%w: central directory offset %d out of range", ErrFormat, cdOffset)
	}

	cd := bytes.NewReader(a.data[cdOffset:])
	safeCap := min(totalEntries, 4096)
	a.entries = make([]*Entry, 0, safeCap)

	var sig [4]byte
	for i := int64(0); i < totalEntries; i++ {
		if _, err := io.ReadFull(cd, sig[:]); err != nil || binary.LittleEndian.Uint32(sig[:]) != internal.CentralDirectorySignature {
			return fmt.Errorf("%w: invalid central directory header at entry %d", ErrFormat, i)
		}

		rec, err := internal.ReadCentralDirEntry(cd)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrFormat, i, err)
		}

		e, err := a.newEntryFromCentralDir(rec)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		a.entries = append(a.entries, e)
		a.byName[e.name] = e
	}

	return nil
}

// readZip64EndOfCentralDir follows the locator record, which sits exactly
// twenty bytes before the EOCD record, to the ZIP64 EOCD record and returns
// the true entry count and directory offset.
func (a *Archive) readZip64EndOfCentralDir(eocdOff int) (totalEntries, cdOffset int64, err error) {
	locOff := eocdOff - zip64LocLen
	if locOff < 0 || binary.LittleEndian.Uint32(a.data[locOff:]) != internal.Zip64EndOfCentralDirLocatorSignature {
		return 0, 0, fmt.Errorf("%w: zip64 end of central directory locator not found", ErrFormat)
	}

	loc, err := internal.ReadZip64EndOfCentralDirLocator(bytes.NewReader(a.data[locOff+4:]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	recOff := loc.Zip64EndOfCentralDirOffset
	if recOff > math.MaxInt64 || int64(recOff)+4 > int64(len(a.data)) ||
		binary.LittleEndian.Uint32(a.data[recOff:]) != internal.Zip64EndOfCentralDirSignature {
		return 0, 0, fmt.Errorf("%w: invalid zip64 end of central directory offset", ErrFormat)
	}

	rec, err := internal.ReadZip64EndOfCentralDir(bytes.NewReader(a.data[recOff+4:]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if rec.TotalNumberOfEntries > math.MaxInt64 || rec.CentralDirOffset > math.MaxInt64 {
		return 0, 0, fmt.Errorf("%w: zip64 value overflows int64", ErrFormat)
	}

	return int64(rec.TotalNumberOfEntries), int64(rec.CentralDirOffset), nil
}

// newEntryFromCentralDir builds an entry descriptor, resolving ZIP64
// overrides so that no sentinel value escapes.
func (a *Archive) newEntryFromCentralDir(rec internal.CentralDirectory) (*Entry, error) {
	name, isDir := splitEntryName(decodeText(rec.Filename, rec.GeneralPurposeBitFlag, a.cfg.textDecoder))
	host := sys.HostSystem(rec.VersionMadeBy >> 8)

	switch {
	case host.IsUnix():
		isDir = isDir || (rec.ExternalFileAttributes>>16)&sys.S_IFMT == sys.S_IFDIR
	default:
		isDir = isDir || rec.ExternalFileAttributes&sys.FATAttrDirectory != 0
	}

	uncompressedSize := uint64(rec.UncompressedSize)
	compressedSize := uint64(rec.CompressedSize)
	localHeaderOffset := uint64(rec.LocalHeaderOffset)
	if err := internal.ResolveZip64(rec.ExtraField, &uncompressedSize, &compressedSize, &localHeaderOffset); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	e := &Entry{
		name:              name,
		comment:           decodeText(rec.Comment, rec.GeneralPurposeBitFlag, a.cfg.textDecoder),
		isDir:             isDir,
		method:            CompressionMethod(rec.CompressionMethod),
		compressedSize:    int64(compressedSize),
		uncompressedSize:  int64(uncompressedSize),
		crc32:             rec.CRC32,
		modTime:           internal.MSDosToTime(rec.LastModFileDate, rec.LastModFileTime),
		localHeaderOffset: int64(localHeaderOffset),
		externalAttrs:     rec.ExternalFileAttributes,
		hostSystem:        host,
		encrypted:         rec.GeneralPurposeBitFlag&internal.FlagEncrypted != 0,
	}
	e.openFunc = func() (io.ReadCloser, error) {
		return a.extract(e)
	}

	return e, nil
}

// extract re-validates the local header at the descriptor's recorded offset,
// a defense against a corrupt or adversarial central directory, then slices
// out exactly the compressed payload and routes it through the entry's
// decompressor.
func (a *Archive) extract(e *Entry) (io.ReadCloser, error) {
	if e.isDir {
		a.log.Debug("creating", slog.String("path", e.name))
		return emptyPayload()
	}
	if e.encrypted {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, e.name)
	}

	d, ok := a.cfg.decompressors[e.method]
	if !ok {
		return nil, fmt.Errorf("%w: method %d for %s", ErrAlgorithm, e.method, e.name)
	}

	off := e.localHeaderOffset
	if off < 0 || off+localHeaderLen > int64(len(a.data)) {
		return nil, fmt.Errorf("%w: local header offset %d out of range", ErrFormat, off)
	}
	header := a.data[off : off+localHeaderLen]
	if binary.LittleEndian.Uint32(header[0:4]) != internal.LocalFileHeaderSignature {
		return nil, fmt.Errorf("%w: expected local file header signature at offset %d", ErrFormat, off)
	}

	filenameLen := int64(binary.LittleEndian.Uint16(header[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(header[28:30]))
	dataOff := off + localHeaderLen + filenameLen + extraLen
	if dataOff+e.compressedSize > int64(len(a.data)) {
		return nil, fmt.Errorf("%w: payload of %s extends past end of archive", ErrFormat, e.name)
	}

	if e.method == Deflated {
		a.log.Debug("inflating", slog.String("path", e.name), slog.Int64("size", e.compressedSize))
	} else {
		a.log.Debug("extracting", slog.String("path", e.name), slog.Int64("size", e.compressedSize))
	}

	raw := bytes.NewReader(a.data[dataOff : dataOff+e.compressedSize])
	rc, err := d.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", e.name, err)
	}
	return newChecksumReader(rc, e), nil
}

// findEOCD scans backward for the end of central directory signature. The
// comment field bounds the search window: the record can sit at most
// maxEOCDSearch bytes from the end.
func findEOCD(data []byte) (int, error) {
	if len(data) < eocdLen {
		return 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	floor := max(0, len(data)-maxEOCDSearch)
	for i := len(data) - eocdLen; i >= floor; i-- {
		if binary.LittleEndian.Uint32(data[i:i+4]) == internal.EndOfCentralDirSignature {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}
