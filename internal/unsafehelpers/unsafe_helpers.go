// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so the rest of carrotcache stays clean and easy
// to audit. Every helper documents its pre/post conditions.
//
// DISCLAIMER: these helpers deliberately break the Go memory-safety model
// for zero-allocation conversions. Use only inside this repository; they
// are not part of the public API and may change without notice. Misuse
// leads to subtle data races or garbage-collector corruption.
//
// All functions are go:linkname-free, cgo-free and pure Go.
//
// © 2025 carrotcache authors. MIT License.
package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   Zero-copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never modified for the lifetime of the
// resulting string. Used when comparing/hashing a key stored compactly
// inside an index block body.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets a string as a byte slice without allocating.
// The returned slice must remain read-only.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

/* -------------------------------------------------------------------------
   Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align (a power of two).
// Nothing in the tree calls it; indexblock.LadderFor does its own ladder
// quantization.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
// Nothing in the tree calls it.
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}
