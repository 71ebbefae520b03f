// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys maps the "version made by" host system byte of a central
// directory entry onto the attribute conventions that system uses.
package sys

// HostSystem identifies the system on which an archive entry was created.
// It is carried in the high byte of the central directory's VersionMadeBy
// field and decides how external file attributes are interpreted.
type HostSystem uint8

// Host systems named by the ZIP application notes. Only the FAT family and
// UNIX change attribute interpretation; the rest are listed for diagnostics.
const (
	HostSystemFAT       HostSystem = 0 // MS-DOS and OS/2 (FAT / VFAT / FAT32)
	HostSystemAmiga     HostSystem = 1
	HostSystemOpenVMS   HostSystem = 2
	HostSystemUNIX      HostSystem = 3
	HostSystemVMCMS     HostSystem = 4
	HostSystemAtariST   HostSystem = 5
	HostSystemOS2HPFS   HostSystem = 6
	HostSystemMacintosh HostSystem = 7
	HostSystemZSystem   HostSystem = 8
	HostSystemCPM       HostSystem = 9
	HostSystemNTFS      HostSystem = 10
	HostSystemVFAT      HostSystem = 14
	HostSystemBeOS      HostSystem = 16
	HostSystemOS400     HostSystem = 18
	HostSystemDarwin    HostSystem = 19
)

// IsUnix reports whether external attributes carry Unix permission bits in
// their high word.
func (h HostSystem) IsUnix() bool {
	return h == HostSystemUNIX || h == HostSystemDarwin
}

// IsWindows reports whether external attributes follow the FAT/NTFS
// attribute bit layout.
func (h HostSystem) IsWindows() bool {
	return h == HostSystemFAT || h == HostSystemNTFS || h == HostSystemVFAT
}

func (h HostSystem) String() string {
	switch h {
	case HostSystemFAT:
		return "MS-DOS/OS2 (FAT)"
	case HostSystemAmiga:
		return "Amiga"
	case HostSystemOpenVMS:
		return "OpenVMS"
	case HostSystemUNIX:
		return "UNIX"
	case HostSystemVMCMS:
		return "VM/CMS"
	case HostSystemAtariST:
		return "Atari ST"
	case HostSystemOS2HPFS:
		return "OS/2 HPFS"
	case HostSystemMacintosh:
		return "Macintosh"
	case HostSystemZSystem:
		return "Z-System"
	case HostSystemCPM:
		return "CP/M"
	case HostSystemNTFS:
		return "Windows NTFS"
	case HostSystemVFAT:
		return "VFAT"
	case HostSystemBeOS:
		return "BeOS"
	case HostSystemOS400:
		return "OS/400"
	case HostSystemDarwin:
		return "OS X (Darwin)"
	}
	return "Unknown"
}

// POSIX file type bits stored in the high word of Unix external attributes.
const (
	S_IFMT   = 0170000
	S_IFSOCK = 0140000
	S_IFLNK  = 0120000
	S_IFREG  = 0100000
	S_IFBLK  = 0060000
	S_IFDIR  = 0040000
	S_IFCHR  = 0020000
	S_IFIFO  = 0010000
)

// FAT attribute bits stored in the low byte of external attributes.
const (
	FATAttrReadOnly  = 0x01
	FATAttrDirectory = 0x10
)
