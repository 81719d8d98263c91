package indexblock

import "errors"

var (
	// errTruncated signals a short/corrupt byte buffer during decode.
	errTruncated = errors.New("indexblock: truncated entry")

	// ErrBlockCorrupt signals a header/body mismatch on Decode.
	ErrBlockCorrupt = errors.New("indexblock: corrupt block")

	// ErrFull signals the block cannot grow past the largest ladder rung.
	ErrFull = errors.New("indexblock: block full")
)
