// Package cos provides common low-level helpers shared across Graft's
// client and server packages: zero-copy byte/string conversion and frame
// checksums.
package cos

import "unsafe"

// UnsafeB reinterprets a string's bytes without copying. The caller must not
// mutate the returned slice, nor retain it past the lifetime of s.
func UnsafeB(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// UnsafeS reinterprets a byte slice as a string without copying. The caller
// must not mutate b after this call.
func UnsafeS(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
