// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
	"time"

	kzip "github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// zipFile is one input to buildZip.
type zipFile struct {
	name string
	data string
}

// buildZip produces an archive through the zip writer, which emits
// deferred-size entries with trailing data descriptors, the layout streaming
// writers produce in practice.
func buildZip(t *testing.T, files []zipFile, comment string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := kzip.NewWriter(&buf)
	if comment != "" {
		require.NoError(t, w.SetComment(comment))
	}

	for _, f := range files {
		fw, err := w.CreateHeader(&kzip.FileHeader{
			Name:     f.name,
			Method:   kzip.Deflate,
			Modified: time.Date(2024, time.March, 5, 10, 20, 30, 0, time.UTC),
		})
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.data))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return buf.Bytes()
}

// rawEntry is one input to buildRawZip. Payloads are always stored verbatim;
// the builder exists to exercise layouts the zip writer will not produce.
type rawEntry struct {
	name      string
	data      string
	comment   string
	encrypted bool
	deferred  bool // omit sizes from the local header, append a data descriptor
	badCRC    bool // record a wrong checksum in both header and directory
}

// buildRawZip assembles an archive byte by byte: local records with stored
// payloads, a central directory and an end of central directory record.
func buildRawZip(t *testing.T, entries []rawEntry, comment string) []byte {
	t.Helper()

	const (
		dosDate = 0x21 // 1980-01-01
		madeBy  = 0x031E
	)

	var buf bytes.Buffer
	offsets := make([]uint32, len(entries))

	for i, e := range entries {
		offsets[i] = uint32(buf.Len())

		var flags uint16
		if e.encrypted {
			flags |= 0x0001
		}
		if e.deferred {
			flags |= 0x0008
		}

		sum := crc32.ChecksumIEEE([]byte(e.data))
		if e.badCRC {
			sum ^= 0xFFFFFFFF
		}

		size := uint32(len(e.data))
		headerCRC, headerSize := sum, size
		if e.deferred {
			headerCRC, headerSize = 0, 0
		}

		wu32(&buf, 0x04034b50)
		wu16(&buf, 20)
		wu16(&buf, flags)
		wu16(&buf, 0) // store
		wu16(&buf, 0)
		wu16(&buf, dosDate)
		wu32(&buf, headerCRC)
		wu32(&buf, headerSize)
		wu32(&buf, headerSize)
		wu16(&buf, uint16(len(e.name)))
		wu16(&buf, 0)
		buf.WriteString(e.name)
		buf.WriteString(e.data)

		if e.deferred {
			wu32(&buf, 0x08074b50)
			wu32(&buf, sum)
			wu32(&buf, size)
			wu32(&buf, size)
		}
	}

	cdOffset := uint32(buf.Len())
	for i, e := range entries {
		var flags uint16
		if e.encrypted {
			flags |= 0x0001
		}
		if e.deferred {
			flags |= 0x0008
		}

		sum := crc32.ChecksumIEEE([]byte(e.data))
		if e.badCRC {
			sum ^= 0xFFFFFFFF
		}

		external := uint32(0100644) << 16
		if len(e.name) > 0 && e.name[len(e.name)-1] == '/' {
			external = uint32(040755)<<16 | 0x10
		}

		wu32(&buf, 0x02014b50)
		wu16(&buf, madeBy)
		wu16(&buf, 20)
		wu16(&buf, flags)
		wu16(&buf, 0)
		wu16(&buf, 0)
		wu16(&buf, dosDate)
		wu32(&buf, sum)
		wu32(&buf, uint32(len(e.data)))
		wu32(&buf, uint32(len(e.data)))
		wu16(&buf, uint16(len(e.name)))
		wu16(&buf, 0)
		wu16(&buf, uint16(len(e.comment)))
		wu16(&buf, 0)
		wu16(&buf, 0)
		wu32(&buf, external)
		wu32(&buf, offsets[i])
		buf.WriteString(e.name)
		buf.WriteString(e.comment)
	}
	cdSize := uint32(buf.Len()) - cdOffset

	wu32(&buf, 0x06054b50)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, uint16(len(entries)))
	wu16(&buf, uint16(len(entries)))
	wu32(&buf, cdSize)
	wu32(&buf, cdOffset)
	wu16(&buf, uint16(len(comment)))
	buf.WriteString(comment)

	return buf.Bytes()
}

// crxWrap prefixes body with a version 2 CRX header.
func crxWrap(body, key, sig []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("Cr24")
	wu32(&buf, 2)
	wu32(&buf, uint32(len(key)))
	wu32(&buf, uint32(len(sig)))
	buf.Write(key)
	buf.Write(sig)
	buf.Write(body)
	return buf.Bytes()
}

func wu16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func wu32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func wu64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
