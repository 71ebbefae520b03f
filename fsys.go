// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	_ fs.FS         = (*archiveFS)(nil)
	_ fs.StatFS     = (*archiveFS)(nil)
	_ fs.ReadDirFS  = (*archiveFS)(nil)
	_ fs.ReadFileFS = (*archiveFS)(nil)
)

// FS returns a read-only filesystem view of the archive, so the surrounding
// document layer can address parts with the standard io/fs APIs:
//
//	data, _ := fs.ReadFile(a.FS(), "xl/workbook.xml")
func (a *Archive) FS() fs.FS {
	return &archiveFS{a: a}
}

type archiveFS struct {
	a *Archive
}

// Open implements fs.FS.
func (afs *archiveFS) Open(name string) (fs.File, error) {
	entry, err := afs.getEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if entry.isDir {
		return &fsDir{entry: entry, a: afs.a}, nil
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{entry: entry, rc: rc}, nil
}

// Stat implements fs.StatFS.
func (afs *archiveFS) Stat(name string) (fs.FileInfo, error) {
	entry, err := afs.getEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfoAdapter{entry}, nil
}

// ReadDir implements fs.ReadDirFS.
func (afs *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := afs.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// ReadFile implements fs.ReadFileFS through the archive's immediate
// extraction path.
func (afs *archiveFS) ReadFile(name string) ([]byte, error) {
	entry, err := afs.getEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	if entry.isDir {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	data, err := afs.a.ReadFile(entry.name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// getEntry resolves a name to its entry, synthesizing the root and implicit
// parent directories that the archive does not record explicitly.
func (afs *archiveFS) getEntry(name string) (*Entry, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}

	if name == "." {
		return syntheticDir("."), nil
	}

	if e, err := afs.a.Entry(name); err == nil {
		return e, nil
	}

	if afs.hasImplicitDir(name) {
		return syntheticDir(name), nil
	}

	return nil, fs.ErrNotExist
}

func (afs *archiveFS) hasImplicitDir(name string) bool {
	prefix := name + "/"
	for _, e := range afs.a.entries {
		if strings.HasPrefix(e.name, prefix) {
			return true
		}
	}
	return false
}

func syntheticDir(name string) *Entry {
	return &Entry{
		name:          name,
		isDir:         true,
		externalAttrs: 0x10,
		modTime:       time.Time{},
	}
}

// fsFile wraps a regular entry's payload to satisfy fs.File.
type fsFile struct {
	entry *Entry
	rc    io.ReadCloser
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfoAdapter{f.entry}, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.rc.Read(b) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir wraps a directory entry to satisfy fs.ReadDirFile.
type fsDir struct {
	entry *Entry
	a     *Archive

	listing []fs.DirEntry // built on first ReadDir
	listed  bool
	offset  int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return fileInfoAdapter{d.entry}, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.entry.name, Err: fs.ErrInvalid}
}

// ReadDir lists the directory's immediate children. Successive calls with
// n > 0 continue where the previous one stopped.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.listed {
		d.listing = d.list()
		d.listed = true
	}

	rest := d.listing[d.offset:]
	if n <= 0 {
		d.offset = len(d.listing)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if len(rest) > n {
		rest = rest[:n]
	}
	d.offset += len(rest)
	return rest, nil
}

func (d *fsDir) list() []fs.DirEntry {
	dirPath := d.entry.name
	if dirPath == "." {
		dirPath = ""
	} else if !strings.HasSuffix(dirPath, "/") {
		dirPath += "/"
	}

	seen := make(map[string]bool)
	var entries []fs.DirEntry

	for _, e := range d.a.entries {
		if !strings.HasPrefix(e.name, dirPath) {
			continue
		}

		rel := strings.TrimPrefix(e.name, dirPath)
		if rel == "" {
			continue
		}

		parts := strings.SplitN(rel, "/", 2)
		childName := parts[0]

		if seen[childName] {
			continue
		}
		seen[childName] = true

		isDir := len(parts) > 1 || e.isDir
		info := fileInfoAdapter{e}
		if len(parts) > 1 {
			// Implicit intermediate directory; the entry we matched is a
			// descendant, not the child itself.
			info = fileInfoAdapter{syntheticDir(dirPath + childName)}
		}
		entries = append(entries, fsDirEntryAdapter{
			name:  childName,
			isDir: isDir,
			info:  info,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries
}

type fileInfoAdapter struct{ e *Entry }

func (i fileInfoAdapter) Name() string       { return path.Base(i.e.name) }
func (i fileInfoAdapter) Size() int64        { return i.e.uncompressedSize }
func (i fileInfoAdapter) Mode() fs.FileMode  { return i.e.Mode() }
func (i fileInfoAdapter) ModTime() time.Time { return i.e.modTime }
func (i fileInfoAdapter) IsDir() bool        { return i.e.isDir }
func (i fileInfoAdapter) Sys() any           { return nil }

type fsDirEntryAdapter struct {
	name  string
	isDir bool
	info  fs.FileInfo
}

func (e fsDirEntryAdapter) Name() string               { return e.name }
func (e fsDirEntryAdapter) IsDir() bool                { return e.isDir }
func (e fsDirEntryAdapter) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e fsDirEntryAdapter) Info() (fs.FileInfo, error) { return e.info, nil }
