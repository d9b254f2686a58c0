package cos

import "github.com/OneOfOne/xxhash"

// FrameChecksum is the fast, non-cryptographic integrity check stamped on
// every segment frame (see segment.Writer): it detects bit-rot and
// truncation on the read path but is never used as a content address -
// CommitHash (graft package) fills that role with a cryptographic digest.
func FrameChecksum(b []byte) uint64 {
	return xxhash.Checksum64(b)
}

// FrameChecksumSeed is used where a salted checksum is needed (e.g. to
// avoid collisions between identically-shaped empty frames across
// unrelated segments during cache negative-lookups).
func FrameChecksumSeed(b []byte, seed uint64) uint64 {
	return xxhash.Checksum64S(b, seed)
}
