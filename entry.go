// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/wy193777/excelts-sub001/internal/sys"
)

// Entry describes one file or directory inside an archive. Both pipelines
// produce entries with identical semantics: all sizes and offsets are
// resolved to their true 64-bit magnitude before an Entry is handed out, so
// a ZIP64 sentinel never escapes this package.
//
// Entries built by an Archive are immutable and may be extracted any number
// of times. Entries emitted by a StreamParser expose a single-shot payload
// stream bound to the parser's position; for deferred-size entries the size
// and CRC getters become trustworthy only once the payload has been fully
// read.
type Entry struct {
	name              string
	comment           string
	isDir             bool
	method            CompressionMethod
	compressedSize    int64
	uncompressedSize  int64
	crc32             uint32
	modTime           time.Time
	localHeaderOffset int64
	externalAttrs     uint32
	hostSystem        sys.HostSystem
	encrypted         bool
	sizesDeferred     bool

	openFunc func() (io.ReadCloser, error)
}

// Name returns the decoded entry path, without a trailing separator for
// directories.
func (e *Entry) Name() string { return e.name }

// Comment returns the entry's comment, if any. Only the central directory
// carries comments, so streamed entries always report an empty string.
func (e *Entry) Comment() string { return e.comment }

// IsDir reports whether the entry is a directory. Directories carry no
// payload.
func (e *Entry) IsDir() bool { return e.isDir }

// Method returns the entry's compression method.
func (e *Entry) Method() CompressionMethod { return e.method }

// CompressedSize returns the payload's on-disk byte count.
func (e *Entry) CompressedSize() int64 { return e.compressedSize }

// UncompressedSize returns the payload's decompressed byte count.
func (e *Entry) UncompressedSize() int64 { return e.uncompressedSize }

// CRC32 returns the recorded checksum of the uncompressed payload.
func (e *Entry) CRC32() uint32 { return e.crc32 }

// ModTime returns the entry's last-modified instant in UTC, decoded from
// the packed MS-DOS date and time fields.
func (e *Entry) ModTime() time.Time { return e.modTime }

// Offset returns the absolute position of the entry's local file header.
func (e *Entry) Offset() int64 { return e.localHeaderOffset }

// ExternalAttributes returns the raw external attributes field.
func (e *Entry) ExternalAttributes() uint32 { return e.externalAttrs }

// HostSystem returns the system the entry was created on, which decides how
// ExternalAttributes is interpreted.
func (e *Entry) HostSystem() sys.HostSystem { return e.hostSystem }

// Encrypted reports whether the entry's payload is encrypted. Encrypted
// payloads cannot be extracted.
func (e *Entry) Encrypted() bool { return e.encrypted }

// SizesDeferred reports whether the entry's sizes and CRC trail the payload
// in a data descriptor. It is true for a streamed entry until its payload
// has been read to the end, and always false for Archive entries.
func (e *Entry) SizesDeferred() bool { return e.sizesDeferred }

// Open returns the entry's decompressed payload. Closing the reader after a
// full read verifies the CRC32 and size against the entry's metadata.
// Directories yield an empty payload; encrypted entries and unsupported
// compression methods fail before any payload byte is read.
func (e *Entry) Open() (io.ReadCloser, error) { return e.openFunc() }

// Mode derives fs.FileMode bits from the external attributes under the
// conventions of the entry's host system.
func (e *Entry) Mode() fs.FileMode {
	if e.hostSystem.IsUnix() {
		unixMode := e.externalAttrs >> 16
		mode := fs.FileMode(unixMode & 0777)

		switch unixMode & sys.S_IFMT {
		case sys.S_IFDIR:
			mode |= fs.ModeDir
		case sys.S_IFLNK:
			mode |= fs.ModeSymlink
		case sys.S_IFSOCK:
			mode |= fs.ModeSocket
		case sys.S_IFIFO:
			mode |= fs.ModeNamedPipe
		case sys.S_IFCHR:
			mode |= fs.ModeCharDevice
		case sys.S_IFBLK:
			mode |= fs.ModeDevice
		}
		if e.isDir {
			mode |= fs.ModeDir
		}
		return mode
	}

	if e.hostSystem.IsWindows() {
		var mode fs.FileMode
		if e.isDir || e.externalAttrs&sys.FATAttrDirectory != 0 {
			mode = 0755 | fs.ModeDir
		} else {
			mode = 0644
		}
		if e.externalAttrs&sys.FATAttrReadOnly != 0 {
			mode &^= 0222
		}
		return mode
	}

	if e.isDir {
		return 0755 | fs.ModeDir
	}
	return 0644
}

// splitEntryName normalizes a decoded entry name, reporting whether it names
// a directory by its trailing separator.
func splitEntryName(name string) (string, bool) {
	if strings.HasSuffix(name, "/") {
		return strings.TrimSuffix(name, "/"), true
	}
	return name, false
}

// emptyPayload is what directories and zero-byte entries open to.
func emptyPayload() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

// checksumReader verifies CRC32 and size while an entry's payload is read.
// The expected values are taken from the entry at Close time, so it also
// covers deferred-size entries whose metadata arrives after the payload.
type checksumReader struct {
	rc    io.ReadCloser
	hash  hash.Hash32
	entry *Entry
	read  uint64
}

func newChecksumReader(rc io.ReadCloser, e *Entry) *checksumReader {
	return &checksumReader{rc: rc, hash: crc32.NewIEEE(), entry: e}
}

func (cr *checksumReader) Read(p []byte) (int, error) {
	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		if !cr.entry.sizesDeferred && cr.read > uint64(cr.entry.uncompressedSize) {
			return n, ErrSizeMismatch
		}
		cr.hash.Write(p[:n])
	}
	return n, err
}

func (cr *checksumReader) Close() error {
	defer cr.rc.Close()

	if cr.read != uint64(cr.entry.uncompressedSize) {
		return fmt.Errorf("%w: read %d, want %d", ErrSizeMismatch, cr.read, cr.entry.uncompressedSize)
	}
	if got := cr.hash.Sum32(); got != cr.entry.crc32 {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, cr.entry.crc32)
	}
	return nil
}
