package zipcore

import "errors"

var (
	// ErrFormat is returned when the input is not a structurally valid ZIP
	// archive: an unrecognized record signature, a missing end of central
	// directory record, or a central directory entry at the wrong offset.
	ErrFormat = errors.New("zipcore: not a valid zip file")

	// ErrUnexpectedEOF is returned when the byte source ends while a fixed
	// size or pattern-bounded demand is still outstanding.
	ErrUnexpectedEOF = errors.New("zipcore: unexpected end of input")

	// ErrAlgorithm is returned when an entry uses a compression method with
	// no registered decompressor.
	ErrAlgorithm = errors.New("zipcore: unsupported compression algorithm")

	// ErrEncrypted is returned when extraction of an encrypted entry is
	// requested. Encrypted entries are detected, never decrypted.
	ErrEncrypted = errors.New("zipcore: entry is encrypted")

	// ErrChecksum is returned when an entry's payload does not match its
	// recorded CRC32.
	ErrChecksum = errors.New("zipcore: checksum mismatch")

	// ErrSizeMismatch is returned when an entry's decompressed payload does
	// not match the recorded uncompressed size.
	ErrSizeMismatch = errors.New("zipcore: uncompressed size mismatch")

	// ErrEntryNotFound is returned when the requested path is not present in
	// the archive.
	ErrEntryNotFound = errors.New("zipcore: entry not found")
)
