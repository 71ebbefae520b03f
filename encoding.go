// Copyright 2026 The excelts Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"golang.org/x/text/encoding/charmap"

	"github.com/wy193777/excelts-sub001/internal"
)

// TextDecoder converts a raw 8-bit entry name or comment into UTF-8. It is
// only consulted when the entry's Unicode flag is clear; names flagged as
// UTF-8 pass through untouched.
type TextDecoder func(string) string

// CP437 decodes legacy names as IBM code page 437, the encoding the original
// PKZIP tools wrote. This is the default for both parsers.
func CP437(s string) string {
	decoded, err := charmap.CodePage437.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

// RawText passes legacy names through byte for byte.
func RawText(s string) string { return s }

func decodeText(raw string, bitFlag uint16, dec TextDecoder) string {
	if bitFlag&internal.FlagUTF8 != 0 || dec == nil {
		return raw
	}
	return dec(raw)
}
