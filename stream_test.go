// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamParserWalk(t *testing.T) {
	data := buildZip(t, []zipFile{
		{name: "xl/workbook.xml", data: "<workbook/>"},
		{name: "xl/worksheets/sheet1.xml", data: strings.Repeat("<row/>", 500)},
	}, "generated by tests")

	sp := NewStreamParser(bytes.NewReader(data))

	var names []string
	for {
		e, err := sp.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, e.Name())

		rc, err := e.Open()
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}

	assert.Equal(t, []string{"xl/workbook.xml", "xl/worksheets/sheet1.xml"}, names)
	assert.Equal(t, "generated by tests", sp.Comment())
	assert.Nil(t, sp.CRX())
}

func TestStreamParserPayloadContent(t *testing.T) {
	data := buildZip(t, []zipFile{{name: "a.txt", data: "hello zip"}}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "hello zip", string(got))
	assert.Equal(t, time.Date(2024, time.March, 5, 10, 20, 30, 0, time.UTC), e.ModTime())
}

func TestStreamParserDeferredSizes(t *testing.T) {
	// The zip writer defers sizes to a trailing data descriptor, so the
	// entry's magnitude fields are placeholders until the payload is read.
	data := buildZip(t, []zipFile{{name: "sheet.xml", data: "abcdefghij"}}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.True(t, e.SizesDeferred())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "abcdefghij", string(got))
	assert.False(t, e.SizesDeferred())
	assert.Equal(t, int64(10), e.UncompressedSize())
	assert.NotZero(t, e.CRC32())
}

func TestStreamParserSkipsUnreadPayloads(t *testing.T) {
	data := buildZip(t, []zipFile{
		{name: "skip-me", data: strings.Repeat("x", 10_000)},
		{name: "keep", data: "kept content"},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))

	_, err := sp.Next()
	require.NoError(t, err)

	// The first payload was never opened; Next must drain past it and its
	// data descriptor.
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "keep", e.Name())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "kept content", string(got))

	_, err = sp.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamParserPartiallyReadPayload(t *testing.T) {
	data := buildZip(t, []zipFile{
		{name: "first", data: strings.Repeat("abc", 5_000)},
		{name: "second", data: "after"},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))

	e, err := sp.Next()
	require.NoError(t, err)
	rc, err := e.Open()
	require.NoError(t, err)
	_, err = io.ReadFull(rc, make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, rc.Close()) // early close skips verification

	e, err = sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", e.Name())
}

func TestStreamParserChunkedSource(t *testing.T) {
	data := buildZip(t, []zipFile{{name: "a", data: "payload bytes"}}, "")

	sp := NewStreamParser(iotest.OneByteReader(bytes.NewReader(data)))
	e, err := sp.Next()
	require.NoError(t, err)

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload bytes", string(got))

	_, err = sp.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamParserPipeSource(t *testing.T) {
	data := buildZip(t, []zipFile{{name: "pushed.xml", data: "<pushed/>"}}, "")

	pr, pw := io.Pipe()
	go func() {
		for len(data) > 0 {
			n := min(7, len(data))
			pw.Write(data[:n])
			data = data[n:]
		}
		pw.Close()
	}()

	sp := NewStreamParser(pr)
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "pushed.xml", e.Name())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "<pushed/>", string(got))

	// Consuming through the EOCD record unblocks the producer.
	_, err = sp.Next()
	require.Equal(t, io.EOF, err)
}

func TestStreamParserStoredEntries(t *testing.T) {
	data := buildRawZip(t, []rawEntry{
		{name: "dir/", data: ""},
		{name: "dir/plain.txt", data: "stored verbatim"},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))

	e, err := sp.Next()
	require.NoError(t, err)
	assert.True(t, e.IsDir())
	assert.Equal(t, "dir", e.Name())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, rc.Close())

	e, err = sp.Next()
	require.NoError(t, err)
	assert.Equal(t, Stored, e.Method())
	assert.False(t, e.SizesDeferred())

	rc, err = e.Open()
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "stored verbatim", string(got))
}

func TestStreamParserDeferredStoredEntry(t *testing.T) {
	// A stored payload with zeroed local sizes ends only at its data
	// descriptor signature; the parser must scan for it.
	data := buildRawZip(t, []rawEntry{
		{name: "scan.bin", data: "undelimited payload", deferred: true},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.True(t, e.SizesDeferred())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "undelimited payload", string(got))
	assert.Equal(t, int64(len("undelimited payload")), e.CompressedSize())
	assert.False(t, e.SizesDeferred())

	_, err = sp.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamParserEncryptedEntry(t *testing.T) {
	data := buildRawZip(t, []rawEntry{
		{name: "secret.bin", data: "ciphertext", encrypted: true},
		{name: "after.txt", data: "never delivered"},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.True(t, e.Encrypted())

	_, err = e.Open()
	require.ErrorIs(t, err, ErrEncrypted)

	// Demanding an encrypted payload is fatal to the stream; entries after
	// the rejected one are not delivered.
	_, err = sp.Next()
	require.ErrorIs(t, err, ErrEncrypted)
	_, err = sp.Next()
	require.ErrorIs(t, err, ErrEncrypted)
}

func TestStreamParserEncryptedEntrySkippable(t *testing.T) {
	// An encrypted entry whose payload is never opened is skipped like any
	// other unread entry.
	data := buildRawZip(t, []rawEntry{
		{name: "secret.bin", data: "ciphertext", encrypted: true},
		{name: "after.txt", data: "still reachable"},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	_, err := sp.Next()
	require.NoError(t, err)

	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "after.txt", e.Name())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "still reachable", string(got))
}

func TestStreamParserChecksumMismatch(t *testing.T) {
	data := buildRawZip(t, []rawEntry{
		{name: "bad.bin", data: "corrupted payload", badCRC: true},
	}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)

	rc, err := e.Open()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.ErrorIs(t, rc.Close(), ErrChecksum)
}

func TestStreamParserCRXWrapper(t *testing.T) {
	body := buildZip(t, []zipFile{{name: "ext/manifest.json", data: "{}"}}, "")
	data := crxWrap(body, []byte{1, 2, 3}, []byte{4, 5})

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "ext/manifest.json", e.Name())

	crx := sp.CRX()
	require.NotNil(t, crx)
	assert.Equal(t, uint32(2), crx.Version)
	assert.Equal(t, []byte{1, 2, 3}, crx.PublicKey)
	assert.Equal(t, []byte{4, 5}, crx.Signature)
}

func TestStreamParserGarbagePrefix(t *testing.T) {
	sp := NewStreamParser(strings.NewReader("this is not an archive at all"))

	_, err := sp.Next()
	require.ErrorIs(t, err, ErrFormat)
}

func TestStreamParserResyncAfterCentralDir(t *testing.T) {
	// Junk wedged between the central directory and the EOCD record is
	// tolerated once the directory has been seen.
	data := buildRawZip(t, []rawEntry{{name: "a.txt", data: "abc"}}, "tail comment")
	eocd := bytes.LastIndex(data, eocdPattern)
	require.Greater(t, eocd, 0)

	patched := append([]byte{}, data[:eocd]...)
	patched = append(patched, []byte("JUNKJUNKJUNK")...)
	patched = append(patched, data[eocd:]...)

	sp := NewStreamParser(bytes.NewReader(patched))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name())

	_, err = sp.Next()
	require.Equal(t, io.EOF, err)
	assert.Equal(t, "tail comment", sp.Comment())
}

func TestStreamParserTruncatedArchive(t *testing.T) {
	data := buildZip(t, []zipFile{{name: "a", data: "payload"}}, "")

	sp := NewStreamParser(bytes.NewReader(data[:len(data)-15]))
	e, err := sp.Next()
	require.NoError(t, err)

	rc, err := e.Open()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = sp.Next()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestStreamParserLegacyNameDecoding(t *testing.T) {
	// 0x82 is e-acute in code page 437.
	data := buildRawZip(t, []rawEntry{{name: "caf\x82", data: "x"}}, "")

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "café", e.Name())

	sp = NewStreamParser(bytes.NewReader(data), WithTextDecoder(RawText))
	e, err = sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "caf\x82", e.Name())
}

// buildZip64TrailerZip assembles a one-entry stored archive whose trailer
// carries a zip64 end of central directory record with the given declared
// size and extension blob.
func buildZip64TrailerZip(t *testing.T, declaredSize uint64, extension []byte) []byte {
	t.Helper()

	data := buildRawZip(t, []rawEntry{{name: "a.txt", data: "abc"}}, "")
	eocd := bytes.LastIndex(data, eocdPattern)
	require.Greater(t, eocd, 0)

	var buf bytes.Buffer
	buf.Write(data[:eocd])

	wu32(&buf, 0x06064b50)
	wu64(&buf, declaredSize)
	wu16(&buf, 45)
	wu16(&buf, 45)
	wu32(&buf, 0)
	wu32(&buf, 0)
	wu64(&buf, 1)
	wu64(&buf, 1)
	wu64(&buf, 0)
	wu64(&buf, 0)
	buf.Write(extension)

	wu32(&buf, 0x07064b50)
	wu32(&buf, 0)
	wu64(&buf, 0)
	wu32(&buf, 1)

	buf.Write(data[eocd:])
	return buf.Bytes()
}

func TestStreamParserZip64TrailerExtension(t *testing.T) {
	data := buildZip64TrailerZip(t, 44+8, []byte("8 bytes!"))

	sp := NewStreamParser(bytes.NewReader(data))
	e, err := sp.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name())

	_, err = sp.Next()
	require.Equal(t, io.EOF, err)
}

func TestStreamParserZip64TrailerHostileSize(t *testing.T) {
	// A declared record size past the int64 ceiling must fail outright, and
	// a merely huge one must run out of input, not out of memory.
	data := buildZip64TrailerZip(t, 1<<63, nil)
	sp := NewStreamParser(bytes.NewReader(data))
	_, err := sp.Next()
	require.NoError(t, err)
	_, err = sp.Next()
	require.ErrorIs(t, err, ErrFormat)

	data = buildZip64TrailerZip(t, 1<<40, nil)
	sp = NewStreamParser(bytes.NewReader(data))
	_, err = sp.Next()
	require.NoError(t, err)
	_, err = sp.Next()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestStreamParserZip64LocalHeader(t *testing.T) {
	// Local header with both size fields at the sentinel and the true
	// magnitudes in a 0x0001 extra field triplet.
	payload := "five!"
	sum := crc32.ChecksumIEEE([]byte(payload))

	var buf bytes.Buffer
	wu32(&buf, 0x04034b50)
	wu16(&buf, 45)
	wu16(&buf, 0)
	wu16(&buf, 0) // store
	wu16(&buf, 0)
	wu16(&buf, 0x21)
	wu32(&buf, sum)
	wu32(&buf, 0xFFFFFFFF)
	wu32(&buf, 0xFFFFFFFF)
	wu16(&buf, 5)  // filename length
	wu16(&buf, 20) // extra length
	buf.WriteString("big.b")
	wu16(&buf, 0x0001)
	wu16(&buf, 16)
	wu64(&buf, uint64(len(payload))) // uncompressed
	wu64(&buf, uint64(len(payload))) // compressed
	buf.WriteString(payload)

	wu32(&buf, 0x02014b50)
	wu16(&buf, 0x031E)
	wu16(&buf, 45)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, 0x21)
	wu32(&buf, sum)
	wu32(&buf, uint32(len(payload)))
	wu32(&buf, uint32(len(payload)))
	wu16(&buf, 5)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu32(&buf, uint32(0100644)<<16)
	wu32(&buf, 0)
	buf.WriteString("big.b")

	wu32(&buf, 0x06054b50)
	wu16(&buf, 0)
	wu16(&buf, 0)
	wu16(&buf, 1)
	wu16(&buf, 1)
	wu32(&buf, 0)
	wu32(&buf, 0)
	wu16(&buf, 0)

	sp := NewStreamParser(bytes.NewReader(buf.Bytes()))
	e, err := sp.Next()
	require.NoError(t, err)

	// The sentinels never escape: sizes are resolved before the entry is
	// handed out.
	assert.Equal(t, int64(len(payload)), e.UncompressedSize())
	assert.Equal(t, int64(len(payload)), e.CompressedSize())

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, string(got))

	_, err = sp.Next()
	require.Equal(t, io.EOF, err)
}

func TestStreamParserUnsupportedMethod(t *testing.T) {
	data := buildRawZip(t, []rawEntry{{name: "a", data: "x"}}, "")

	// Patch the method field of the local header to an unknown algorithm.
	patched := append([]byte{}, data...)
	patched[8] = 99

	sp := NewStreamParser(bytes.NewReader(patched))
	_, err := sp.Next()
	require.ErrorIs(t, err, ErrAlgorithm)
}
