// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) fs.FS {
	t.Helper()
	data := buildZip(t, []zipFile{
		{name: "[Content_Types].xml", data: "<Types/>"},
		{name: "xl/workbook.xml", data: "<workbook/>"},
		{name: "xl/worksheets/sheet1.xml", data: "<worksheet/>"},
		{name: "xl/worksheets/sheet2.xml", data: "<worksheet/>"},
	}, "")
	a, err := NewArchive(data)
	require.NoError(t, err)
	return a.FS()
}

func TestFSConformance(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fstest.TestFS(fsys,
		"[Content_Types].xml",
		"xl/workbook.xml",
		"xl/worksheets/sheet1.xml",
		"xl/worksheets/sheet2.xml",
	))
}

func TestFSReadFile(t *testing.T) {
	fsys := newTestFS(t)

	got, err := fs.ReadFile(fsys, "xl/workbook.xml")
	require.NoError(t, err)
	assert.Equal(t, "<workbook/>", string(got))

	_, err = fs.ReadFile(fsys, "xl/missing.xml")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFSImplicitDirectories(t *testing.T) {
	// The archive records no directory entries; they exist only as path
	// prefixes of the files.
	fsys := newTestFS(t)

	info, err := fs.Stat(fsys, "xl")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := fs.ReadDir(fsys, "xl")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "workbook.xml", entries[0].Name())
	assert.False(t, entries[0].IsDir())
	assert.Equal(t, "worksheets", entries[1].Name())
	assert.True(t, entries[1].IsDir())
}

func TestFSRootListing(t *testing.T) {
	fsys := newTestFS(t)

	entries, err := fs.ReadDir(fsys, ".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "[Content_Types].xml", entries[0].Name())
	assert.Equal(t, "xl", entries[1].Name())
}

func TestFSInvalidPath(t *testing.T) {
	fsys := newTestFS(t)

	_, err := fsys.Open("../escape")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = fsys.Open("/absolute")
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestFSWalk(t *testing.T) {
	fsys := newTestFS(t)

	var visited []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		".",
		"[Content_Types].xml",
		"xl",
		"xl/workbook.xml",
		"xl/worksheets",
		"xl/worksheets/sheet1.xml",
		"xl/worksheets/sheet2.xml",
	}, visited)
}
