// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal implements the on-disk record layer shared by both
// decoding pipelines: typed record structs, little-endian field decoding,
// MS-DOS timestamp conversion and ZIP64 extra-field resolution. Keeping the
// field interpretation in one place guarantees the streaming and the
// random-access parsers cannot silently diverge on the same archive.
package internal

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Each record type is introduced by a four byte little-endian signature.
// ZIP signatures begin with the two byte marker 0x4b50, the characters "PK".
// The CRX signature is the Chrome extension wrapper magic "Cr24"; it is not
// part of the PKZIP format but may prefix an otherwise ordinary
// archive.
const (
	LocalFileHeaderSignature             uint32 = 0x04034b50
	DataDescriptorSignature              uint32 = 0x08074b50
	CentralDirectorySignature            uint32 = 0x02014b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
	CRXSignature                         uint32 = 0x34327243
)

// Fixed record sizes with the leading signature already consumed.
const (
	LocalFileHeaderLen      = 26
	DataDescriptorLen       = 12
	DataDescriptor64Len     = 20
	CentralDirectoryLen     = 42
	EndOfCentralDirLen      = 18
	Zip64EndOfCentralDirLen = 52
	Zip64LocatorLen         = 16
	CRXHeaderLen            = 12
)

// General purpose bit flags.
const (
	FlagEncrypted     uint16 = 0x0001 // entry payload is encrypted
	FlagDeferredSizes uint16 = 0x0008 // sizes and CRC follow the payload in a data descriptor
	FlagUTF8          uint16 = 0x0800 // filename and comment are UTF-8
)

// Zip64ExtraFieldTag identifies the ZIP64 extended information triplet
// within an extra field.
const Zip64ExtraFieldTag uint16 = 0x0001

// LocalFileHeader is the per-entry metadata record that immediately precedes
// the entry's compressed payload in stream order.
type LocalFileHeader struct {
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	Filename               string
	ExtraField             map[uint16][]byte
}

// ReadLocalFileHeader decodes a local file header from src. The caller has
// already consumed and matched the four byte signature.
func ReadLocalFileHeader(src io.Reader) (LocalFileHeader, error) {
	var buf [LocalFileHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read local file header: %w", err)
	}

	h := LocalFileHeader{
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[0:2]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[2:4]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[4:6]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[6:8]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[8:10]),
		CRC32:                  binary.LittleEndian.Uint32(buf[10:14]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[14:18]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[18:22]),
	}

	filenameLen := binary.LittleEndian.Uint16(buf[22:24])
	extraLen := binary.LittleEndian.Uint16(buf[24:26])

	if filenameLen > 0 {
		filename := make([]byte, filenameLen)
		if _, err := io.ReadFull(src, filename); err != nil {
			return LocalFileHeader{}, fmt.Errorf("read filename: %w", err)
		}
		h.Filename = string(filename)
	}

	if extraLen > 0 {
		extra := make([]byte, extraLen)
		if _, err := io.ReadFull(src, extra); err != nil {
			return LocalFileHeader{}, fmt.Errorf("read extra field: %w", err)
		}
		h.ExtraField = ParseExtraField(extra)
	}

	return h, nil
}

// CentralDirectory is one entry of the archive's central directory.
type CentralDirectory struct {
	VersionMadeBy          uint16
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	DiskNumberStart        uint16
	InternalFileAttributes uint16
	ExternalFileAttributes uint32
	LocalHeaderOffset      uint32
	Filename               string
	ExtraField             map[uint16][]byte
	Comment                string
}

// ReadCentralDirEntry decodes a central directory entry from src. The caller
// has already consumed and matched the four byte signature.
func ReadCentralDirEntry(src io.Reader) (CentralDirectory, error) {
	var buf [CentralDirectoryLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return CentralDirectory{}, fmt.Errorf("read central directory entry: %w", err)
	}

	entry := CentralDirectory{
		VersionMadeBy:          binary.LittleEndian.Uint16(buf[0:2]),
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[2:4]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[4:6]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[6:8]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[8:10]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[10:12]),
		CRC32:                  binary.LittleEndian.Uint32(buf[12:16]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[16:20]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[20:24]),
		DiskNumberStart:        binary.LittleEndian.Uint16(buf[30:32]),
		InternalFileAttributes: binary.LittleEndian.Uint16(buf[32:34]),
		ExternalFileAttributes: binary.LittleEndian.Uint32(buf[34:38]),
		LocalHeaderOffset:      binary.LittleEndian.Uint32(buf[38:42]),
	}

	filenameLen := binary.LittleEndian.Uint16(buf[24:26])
	extraLen := binary.LittleEndian.Uint16(buf[26:28])
	commentLen := binary.LittleEndian.Uint16(buf[28:30])

	if filenameLen > 0 {
		filename := make([]byte, filenameLen)
		if _, err := io.ReadFull(src, filename); err != nil {
			return CentralDirectory{}, fmt.Errorf("read filename: %w", err)
		}
		entry.Filename = string(filename)
	}

	if extraLen > 0 {
		extra := make([]byte, extraLen)
		if _, err := io.ReadFull(src, extra); err != nil {
			return CentralDirectory{}, fmt.Errorf("read extra field: %w", err)
		}
		entry.ExtraField = ParseExtraField(extra)
	}

	if commentLen > 0 {
		comment := make([]byte, commentLen)
		if _, err := io.ReadFull(src, comment); err != nil {
			return CentralDirectory{}, fmt.Errorf("read comment: %w", err)
		}
		entry.Comment = string(comment)
	}

	return entry, nil
}

// EndOfCentralDirectory is the archive's trailing index record.
type EndOfCentralDirectory struct {
	ThisDiskNum                     uint16
	DiskNumWithTheStartOfCentralDir uint16
	TotalNumberOfEntriesOnThisDisk  uint16
	TotalNumberOfEntries            uint16
	CentralDirSize                  uint32
	CentralDirOffset                uint32
	CommentLength                   uint16
	Comment                         string
}

// ReadEndOfCentralDir decodes the end of central directory record, including
// the trailing comment. The caller has already consumed the signature.
func ReadEndOfCentralDir(src io.Reader) (EndOfCentralDirectory, error) {
	var buf [EndOfCentralDirLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return EndOfCentralDirectory{}, fmt.Errorf("read end of central directory: %w", err)
	}
	end := EndOfCentralDirectory{
		ThisDiskNum:                     binary.LittleEndian.Uint16(buf[0:2]),
		DiskNumWithTheStartOfCentralDir: binary.LittleEndian.Uint16(buf[2:4]),
		TotalNumberOfEntriesOnThisDisk:  binary.LittleEndian.Uint16(buf[4:6]),
		TotalNumberOfEntries:            binary.LittleEndian.Uint16(buf[6:8]),
		CentralDirSize:                  binary.LittleEndian.Uint32(buf[8:12]),
		CentralDirOffset:                binary.LittleEndian.Uint32(buf[12:16]),
		CommentLength:                   binary.LittleEndian.Uint16(buf[16:18]),
	}
	if end.CommentLength > 0 {
		comment := make([]byte, end.CommentLength)
		if _, err := io.ReadFull(src, comment); err != nil {
			return EndOfCentralDirectory{}, fmt.Errorf("read comment: %w", err)
		}
		end.Comment = string(comment)
	}

	return end, nil
}

// Zip64EndOfCentralDirectory carries the 64-bit magnitude counterparts of
// the EndOfCentralDirectory fields.
type Zip64EndOfCentralDirectory struct {
	Size                            uint64
	VersionMadeBy                   uint16
	VersionNeededToExtract          uint16
	ThisDiskNum                     uint32
	DiskNumWithTheStartOfCentralDir uint32
	TotalNumberOfEntriesOnThisDisk  uint64
	TotalNumberOfEntries            uint64
	CentralDirSize                  uint64
	CentralDirOffset                uint64
}

// ReadZip64EndOfCentralDir decodes the fixed portion of the ZIP64 end of
// central directory record. The caller has already consumed the signature.
func ReadZip64EndOfCentralDir(src io.Reader) (Zip64EndOfCentralDirectory, error) {
	var buf [Zip64EndOfCentralDirLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDirectory{}, fmt.Errorf("read zip64 end of central directory: %w", err)
	}
	return Zip64EndOfCentralDirectory{
		Size:                            binary.LittleEndian.Uint64(buf[0:8]),
		VersionMadeBy:                   binary.LittleEndian.Uint16(buf[8:10]),
		VersionNeededToExtract:          binary.LittleEndian.Uint16(buf[10:12]),
		ThisDiskNum:                     binary.LittleEndian.Uint32(buf[12:16]),
		DiskNumWithTheStartOfCentralDir: binary.LittleEndian.Uint32(buf[16:20]),
		TotalNumberOfEntriesOnThisDisk:  binary.LittleEndian.Uint64(buf[20:28]),
		TotalNumberOfEntries:            binary.LittleEndian.Uint64(buf[28:36]),
		CentralDirSize:                  binary.LittleEndian.Uint64(buf[36:44]),
		CentralDirOffset:                binary.LittleEndian.Uint64(buf[44:52]),
	}, nil
}

// Zip64EndOfCentralDirectoryLocator points at the ZIP64 end of central
// directory record; it sits exactly twenty bytes before the EOCD record.
type Zip64EndOfCentralDirectoryLocator struct {
	EndOfCentralDirStartDiskNum uint32
	Zip64EndOfCentralDirOffset  uint64
	TotalNumberOfDisks          uint32
}

// ReadZip64EndOfCentralDirLocator decodes the locator record. The caller has
// already consumed the signature.
func ReadZip64EndOfCentralDirLocator(src io.Reader) (Zip64EndOfCentralDirectoryLocator, error) {
	var buf [Zip64LocatorLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDirectoryLocator{}, fmt.Errorf("read zip64 end of central dir locator: %w", err)
	}
	return Zip64EndOfCentralDirectoryLocator{
		EndOfCentralDirStartDiskNum: binary.LittleEndian.Uint32(buf[0:4]),
		Zip64EndOfCentralDirOffset:  binary.LittleEndian.Uint64(buf[4:12]),
		TotalNumberOfDisks:          binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// DataDescriptor supplies an entry's true CRC and sizes when they were
// unknown at the time its local header was written.
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// ParseDataDescriptor decodes a data descriptor body (signature excluded)
// from b. When zip64 is set the size fields are eight bytes wide and b must
// hold DataDescriptor64Len bytes; otherwise DataDescriptorLen bytes.
func ParseDataDescriptor(b []byte, zip64 bool) (DataDescriptor, error) {
	if zip64 {
		if len(b) < DataDescriptor64Len {
			return DataDescriptor{}, fmt.Errorf("zip64 data descriptor: need %d bytes, have %d", DataDescriptor64Len, len(b))
		}
		return DataDescriptor{
			CRC32:            binary.LittleEndian.Uint32(b[0:4]),
			CompressedSize:   binary.LittleEndian.Uint64(b[4:12]),
			UncompressedSize: binary.LittleEndian.Uint64(b[12:20]),
		}, nil
	}
	if len(b) < DataDescriptorLen {
		return DataDescriptor{}, fmt.Errorf("data descriptor: need %d bytes, have %d", DataDescriptorLen, len(b))
	}
	return DataDescriptor{
		CRC32:            binary.LittleEndian.Uint32(b[0:4]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(b[4:8])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// CRXHeader is the Chrome extension wrapper that may prefix an archive:
// a fixed prefix of version and blob lengths followed by the publisher's
// public key and signature. The ZIP body follows immediately after.
type CRXHeader struct {
	Version   uint32
	PublicKey []byte
	Signature []byte
}

// ReadCRXHeader decodes the wrapper header from src. The caller has already
// consumed and matched the four byte magic.
func ReadCRXHeader(src io.Reader) (CRXHeader, error) {
	var buf [CRXHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return CRXHeader{}, fmt.Errorf("read crx header: %w", err)
	}

	h := CRXHeader{Version: binary.LittleEndian.Uint32(buf[0:4])}
	keyLen := binary.LittleEndian.Uint32(buf[4:8])
	sigLen := binary.LittleEndian.Uint32(buf[8:12])

	blob := make([]byte, int64(keyLen)+int64(sigLen))
	if _, err := io.ReadFull(src, blob); err != nil {
		return CRXHeader{}, fmt.Errorf("read crx key and signature: %w", err)
	}
	h.PublicKey = blob[:keyLen]
	h.Signature = blob[keyLen:]

	return h, nil
}

// ParseExtraField splits raw extra field bytes into payloads keyed by tag.
// Triplets with truncated declared sizes are dropped rather than partially
// interpreted.
func ParseExtraField(extraField []byte) map[uint16][]byte {
	m := make(map[uint16][]byte)

	for offset := 0; offset+4 <= len(extraField); {
		tag := binary.LittleEndian.Uint16(extraField[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(extraField[offset+2 : offset+4]))

		offset += 4
		if offset+size > len(extraField) {
			break
		}

		m[tag] = extraField[offset : offset+size]
		offset += size
	}
	return m
}

// ResolveZip64 applies the ZIP64 extended information triplet to the three
// 32-bit fields that can overflow. Overrides appear in the payload in a
// fixed order, uncompressed size then compressed size then local header
// offset, and each is present only when the matching 32-bit field holds the
// 0xFFFFFFFF sentinel. Fields below the sentinel are never overridden.
//
// Values beyond the int64 ceiling are rejected: offsets and sizes travel as
// int64 everywhere above this layer.
func ResolveZip64(extra map[uint16][]byte, uncompressedSize, compressedSize, localHeaderOffset *uint64) error {
	zip64Data, ok := extra[Zip64ExtraFieldTag]
	if !ok {
		return nil
	}

	pos := 0
	take := func(dst *uint64) error {
		if *dst != math.MaxUint32 {
			return nil
		}
		if pos+8 > len(zip64Data) {
			return nil
		}
		v := binary.LittleEndian.Uint64(zip64Data[pos : pos+8])
		pos += 8
		if v > math.MaxInt64 {
			return fmt.Errorf("zip64 value %d overflows int64", v)
		}
		*dst = v
		return nil
	}

	if err := take(uncompressedSize); err != nil {
		return err
	}
	if err := take(compressedSize); err != nil {
		return err
	}
	if localHeaderOffset != nil {
		if err := take(localHeaderOffset); err != nil {
			return err
		}
	}
	return nil
}

// MSDosToTime converts a packed MS-DOS date and time pair into a UTC
// instant. A zero time field decodes to midnight. Out of range month or day
// components are clamped to 1, matching the tolerance of common readers.
func MSDosToTime(dosDate, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}
